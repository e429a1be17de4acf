// Package paymentmgr implements the payment manager: an actor-style
// loop that polls debit-note and invoice event streams and settles
// invoices against the set of agreements the run has accepted. A
// mailbox channel plus one owning goroutine, the same shape as
// pkg/negotiator.
package paymentmgr

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/golemfactory/gwasm-runner/pkg/payment"
)

const pollInterval = 10 * time.Second

// Manager tracks which agreements are owed payment and settles invoices
// as they arrive.
type Manager struct {
	payment      payment.Client
	allocationID string
	log          *logrus.Entry
	pollInterval time.Duration

	inbox   chan interface{}
	stopped chan struct{}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithPollInterval overrides the default ~10s debit-note/invoice poll
// interval, primarily for tests.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

type acceptAgreementMsg struct{ agreementID string }
type getPendingMsg struct{ reply chan int }
type releaseMsg struct{ done chan error }
type stopMsg struct{ done chan struct{} }

// New returns a Manager that will settle invoices against allocationID.
func New(p payment.Client, allocationID string, opts ...Option) *Manager {
	m := &Manager{
		payment:      p,
		allocationID: allocationID,
		log:          logrus.WithField("component", "paymentmgr"),
		pollInterval: pollInterval,
		inbox:        make(chan interface{}, 32),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the debit-note and invoice pollers and the mailbox loop.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// AcceptAgreement marks agreementID as owed payment: a subsequent
// invoice referencing it will be accepted rather than rejected.
func (m *Manager) AcceptAgreement(ctx context.Context, agreementID string) {
	select {
	case m.inbox <- acceptAgreementMsg{agreementID: agreementID}:
	case <-ctx.Done():
	case <-m.stopped:
	}
}

// GetPending returns the number of accepted agreements not yet invoiced
// and paid.
func (m *Manager) GetPending(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case m.inbox <- getPendingMsg{reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-m.stopped:
		return 0, nil
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReleaseAllocation releases the funds allocation and stops the manager.
func (m *Manager) ReleaseAllocation(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case m.inbox <- releaseMsg{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)

	accepted := make(map[string]struct{})
	lastDebitNoteEvent := time.Now()
	lastInvoiceEvent := time.Now()

	debitTick := time.NewTicker(m.pollInterval)
	defer debitTick.Stop()
	invoiceTick := time.NewTicker(m.pollInterval)
	defer invoiceTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-m.inbox:
			switch mm := msg.(type) {
			case acceptAgreementMsg:
				accepted[mm.agreementID] = struct{}{}
			case getPendingMsg:
				mm.reply <- len(accepted)
			case releaseMsg:
				mm.done <- m.payment.ReleaseAllocation(ctx, m.allocationID)
				return
			}

		case <-debitTick.C:
			lastDebitNoteEvent = m.pollDebitNotes(ctx, lastDebitNoteEvent)

		case <-invoiceTick.C:
			lastInvoiceEvent = m.pollInvoices(ctx, lastInvoiceEvent, accepted)
		}
	}
}

// pollDebitNotes fetches and logs debit-note events after since,
// returning the cursor to advance to.
func (m *Manager) pollDebitNotes(ctx context.Context, since time.Time) time.Time {
	events, err := m.payment.GetDebitNoteEvents(ctx, since)
	if err != nil {
		m.log.WithError(err).Error("debit note event poll failed")
		return since
	}
	cursor := since
	for _, ev := range events {
		m.log.WithField("note_id", ev.NoteID).Debug("debit note event")
		cursor = ev.Timestamp
	}
	return cursor
}

// pollInvoices fetches invoice events after since, accepts or rejects
// each Received invoice against accepted, and returns the cursor to
// advance to. accepted is mutated in place: a settled agreement is
// removed so it is not double-paid.
func (m *Manager) pollInvoices(ctx context.Context, since time.Time, accepted map[string]struct{}) time.Time {
	events, err := m.payment.GetInvoiceEvents(ctx, since)
	if err != nil {
		m.log.WithError(err).Error("invoice event poll failed")
		return since
	}
	cursor := since
	for _, ev := range events {
		cursor = ev.Timestamp
		if ev.Type != payment.Received {
			continue
		}
		invoice, err := m.payment.GetInvoice(ctx, ev.InvoiceID)
		if err != nil {
			m.log.WithError(err).WithField("invoice_id", ev.InvoiceID).Error("fetching invoice failed")
			continue
		}
		m.settle(ctx, invoice, accepted)
	}
	return cursor
}

func (m *Manager) settle(ctx context.Context, invoice payment.Invoice, accepted map[string]struct{}) {
	if _, ok := accepted[invoice.AgreementID]; ok {
		delete(accepted, invoice.AgreementID)
		m.log.WithFields(logrus.Fields{
			"invoice_id":   invoice.ID,
			"agreement_id": invoice.AgreementID,
			"amount":       invoice.Amount,
		}).Info("accepting invoice")
		err := m.payment.AcceptInvoice(ctx, invoice.ID, payment.Acceptance{
			TotalAmountAccepted: invoice.Amount,
			AllocationID:        m.allocationID,
		})
		if err != nil {
			m.log.WithError(err).WithField("invoice_id", invoice.ID).Error("accept_invoice failed")
		}
		return
	}

	m.log.WithField("invoice_id", invoice.ID).Warn("rejecting unsolicited invoice")
	err := m.payment.RejectInvoice(ctx, invoice.ID, payment.Rejection{
		Reason:  payment.UnsolicitedService,
		Message: "invoice received before results",
	})
	if err != nil {
		m.log.WithError(err).WithField("invoice_id", invoice.ID).Error("reject_invoice failed")
	}
}
