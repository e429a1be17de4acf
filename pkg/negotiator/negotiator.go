// Package negotiator implements the agreement negotiator: an
// actor-style loop whose mailbox is a channel and whose single
// goroutine is the only writer of its state. Negotiation attempts that
// would otherwise block the mailbox run in their own goroutines and
// report back as messages.
package negotiator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/market"
)

const (
	agreementExpiration = 2 * time.Hour
	approvalTimeout     = 7900 * time.Millisecond
	collectTimeout      = 8 * time.Second
	collectMax          = 5
	idleDelay           = time.Second
)

// Negotiator posts one demand and turns market proposals into agreements
// on behalf of any number of concurrent callers.
type Negotiator struct {
	market market.Client
	demand market.Demand
	log    *logrus.Entry

	// MaxAgreements, when non-zero, soft-caps how many agreements this
	// negotiator will create over its lifetime: once reached, further
	// proposals are ignored and pending requests stay queued. Set before
	// Start; zero means unbounded.
	MaxAgreements int

	inbox   chan interface{}
	stopped chan struct{}
}

type agreementResult struct {
	id  string
	err error
}

type requestMsg struct {
	reply chan agreementResult
}

type stopMsg struct {
	done chan struct{}
}

type negotiatedMsg struct {
	reply chan agreementResult
	id    string
	err   error
}

// New returns a Negotiator for demand, not yet subscribed.
func New(mkt market.Client, demand market.Demand) *Negotiator {
	return &Negotiator{
		market:  mkt,
		demand:  demand,
		log:     logrus.WithField("component", "negotiator"),
		inbox:   make(chan interface{}, 16),
		stopped: make(chan struct{}),
	}
}

// subscriptionID, pending and granted are owned exclusively by run's
// goroutine.
type state struct {
	subscriptionID string
	pending        []chan agreementResult
	granted        int
}

// Start subscribes the demand and launches the actor's loop. Cancelling
// ctx also stops the actor.
func (n *Negotiator) Start(ctx context.Context) error {
	subscriptionID, err := n.market.Subscribe(ctx, n.demand)
	if err != nil {
		return errors.Wrap(err, "subscribing demand")
	}
	n.log.WithField("subscription_id", subscriptionID).Info("subscribed to market")

	go n.run(ctx, &state{subscriptionID: subscriptionID})
	return nil
}

// RequestAgreement asks the actor for a fresh agreement and blocks until
// one is negotiated, the context is cancelled, or the actor is stopped
// (in which case the request is orphaned, observed here as a
// "negotiator stopped" error).
func (n *Negotiator) RequestAgreement(ctx context.Context) (string, error) {
	reply := make(chan agreementResult, 1)
	select {
	case n.inbox <- requestMsg{reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-n.stopped:
		return "", errors.New("negotiator stopped")
	}

	select {
	case r := <-reply:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-n.stopped:
		return "", errors.New("negotiator stopped")
	}
}

// Stop unsubscribes from the market and terminates the actor loop. Any
// promises still pending are orphaned.
func (n *Negotiator) Stop(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case n.inbox <- stopMsg{done: done}:
	case <-n.stopped:
		return nil
	}
	// run closes n.stopped only after its deferred Unsubscribe has
	// returned, so waiting on it (rather than on done) guarantees the
	// demand is unsubscribed by the time Stop returns.
	select {
	case <-n.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (n *Negotiator) run(ctx context.Context, st *state) {
	defer close(n.stopped)
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.market.Unsubscribe(unsubCtx, st.subscriptionID); err != nil {
			n.log.WithError(err).Error("unsubscribe failed")
		}
	}()

	for {
		select {
		case msg := <-n.inbox:
			if n.handle(st, msg) {
				return
			}
			continue
		case <-ctx.Done():
			return
		default:
		}

		if len(st.pending) == 0 {
			select {
			case msg := <-n.inbox:
				if n.handle(st, msg) {
					return
				}
			case <-time.After(idleDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		n.pollOnce(ctx, st)
	}
}

// handle applies one inbox message to state, returning true if the
// actor should stop.
func (n *Negotiator) handle(st *state, msg interface{}) bool {
	switch m := msg.(type) {
	case requestMsg:
		st.pending = append(st.pending, m.reply)
	case negotiatedMsg:
		if m.err != nil {
			n.log.WithError(m.err).Debug("negotiation attempt failed, requeuing promise")
			st.pending = append(st.pending, m.reply)
			return false
		}
		st.granted++
		m.reply <- agreementResult{id: m.id}
		close(m.reply)
	case stopMsg:
		close(m.done)
		return true
	}
	return false
}

func (n *Negotiator) pollOnce(ctx context.Context, st *state) {
	events, err := n.market.Collect(ctx, st.subscriptionID, collectTimeout, collectMax)
	if err != nil {
		n.log.WithError(err).Error("collect market events failed")
		return
	}
	for _, ev := range events {
		n.processEvent(ctx, st, ev)
	}
}

func (n *Negotiator) processEvent(ctx context.Context, st *state, ev market.RequestorEvent) {
	if ev.Proposal == nil {
		return
	}
	p := *ev.Proposal

	if p.State == market.Initial {
		if p.PrevProposalID != nil {
			n.log.WithField("proposal_id", p.ID).Error("proposal in Initial state carries prev_proposal_id, protocol violation, dropping")
			return
		}
		go func() {
			if _, err := n.market.CounterProposal(ctx, st.subscriptionID, p, n.demand); err != nil {
				n.log.WithError(err).Error("counter_proposal failed")
			}
		}()
		return
	}

	if len(st.pending) == 0 {
		return
	}
	if n.MaxAgreements > 0 && st.granted >= n.MaxAgreements {
		n.log.WithField("max_agreements", n.MaxAgreements).Debug("agreement cap reached, ignoring proposal")
		return
	}
	reply := st.pending[0]
	st.pending = st.pending[1:]

	go n.negotiate(ctx, p, reply)
}

func (n *Negotiator) negotiate(ctx context.Context, p market.Proposal, reply chan agreementResult) {
	id, err := n.tryNegotiate(ctx, p)
	select {
	case n.inbox <- negotiatedMsg{reply: reply, id: id, err: err}:
	case <-n.stopped:
	}
}

func (n *Negotiator) tryNegotiate(ctx context.Context, p market.Proposal) (string, error) {
	agreementID, err := n.market.CreateAgreement(ctx, p.ID, time.Now().Add(agreementExpiration))
	if err != nil {
		return "", errors.Wrap(err, "create_agreement")
	}
	if err := n.market.ConfirmAgreement(ctx, agreementID); err != nil {
		return "", errors.Wrap(err, "confirm_agreement")
	}
	approveCtx, cancel := context.WithTimeout(ctx, approvalTimeout)
	defer cancel()
	if err := n.market.WaitForApproval(approveCtx, agreementID, approvalTimeout); err != nil {
		return "", errors.Wrap(err, "wait_for_approval")
	}
	return agreementID, nil
}
