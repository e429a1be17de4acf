package negotiator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golemfactory/gwasm-runner/pkg/market"
	"github.com/golemfactory/gwasm-runner/pkg/negotiator"
)

// fakeMarket scripts a sequence of Collect responses and counts calls,
// under a mutex since the negotiator's goroutine and the test goroutine
// both touch it.
type fakeMarket struct {
	mu sync.Mutex

	events       [][]market.RequestorEvent // one batch per Collect call; repeats last batch once exhausted
	collectCalls int
	unsubscribed bool

	createAttempts   int
	failFirstNCreate int
	counterCalls     int
}

func (f *fakeMarket) Subscribe(ctx context.Context, d market.Demand) (string, error) {
	return "sub-1", nil
}

func (f *fakeMarket) Collect(ctx context.Context, subscriptionID string, timeout time.Duration, max int) ([]market.RequestorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.collectCalls
	f.collectCalls++
	if idx < len(f.events) {
		return f.events[idx], nil
	}
	if len(f.events) > 0 {
		return f.events[len(f.events)-1], nil
	}
	return nil, nil
}

func (f *fakeMarket) CounterProposal(ctx context.Context, subscriptionID string, p market.Proposal, d market.Demand) (string, error) {
	f.mu.Lock()
	f.counterCalls++
	f.mu.Unlock()
	return "counter-1", nil
}

func (f *fakeMarket) CreateAgreement(ctx context.Context, proposalID string, expiration time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.createAttempts
	f.createAttempts++
	if attempt < f.failFirstNCreate {
		return "", errFake{"create_agreement"}
	}
	return "agreement-" + proposalID, nil
}

func (f *fakeMarket) ConfirmAgreement(ctx context.Context, agreementID string) error { return nil }
func (f *fakeMarket) WaitForApproval(ctx context.Context, agreementID string, timeout time.Duration) error {
	return nil
}
func (f *fakeMarket) Unsubscribe(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	f.unsubscribed = true
	f.mu.Unlock()
	return nil
}

type errFake struct{ op string }

func (e errFake) Error() string { return e.op + " failed" }

func proposalEvent(id string, state market.ProposalState) market.RequestorEvent {
	p := market.Proposal{ID: id, IssuerID: "provider-1", State: state}
	return market.RequestorEvent{Proposal: &p}
}

func TestRetryDeliversAgreementExactlyOnce(t *testing.T) {
	fm := &fakeMarket{
		failFirstNCreate: 1,
		events: [][]market.RequestorEvent{
			{proposalEvent("p1", market.Draft)},
		},
	}
	n := negotiator.New(fm, market.Demand{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	id, err := n.RequestAgreement(reqCtx)
	if err != nil {
		t.Fatalf("expected agreement, got error: %v", err)
	}
	if id != "agreement-p1" {
		t.Fatalf("expected agreement-p1, got %q", id)
	}

	fm.mu.Lock()
	attempts := fm.createAttempts
	fm.mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected exactly 2 create_agreement attempts (1 fail + 1 success), got %d", attempts)
	}
}

func TestInitialProposalCountersAndDoesNotConsumePromise(t *testing.T) {
	fm := &fakeMarket{
		events: [][]market.RequestorEvent{
			{proposalEvent("p1", market.Initial)},
		},
	}
	n := negotiator.New(fm, market.Demand{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// The actor only polls the market while a promise is pending; park
	// one that can never be satisfied by an Initial-state proposal.
	go func() {
		_, _ = n.RequestAgreement(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		fm.mu.Lock()
		calls := fm.counterCalls
		fm.mu.Unlock()
		if calls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected counter_proposal to be called for Initial-state proposal")
		case <-time.After(10 * time.Millisecond):
		}
	}

	fm.mu.Lock()
	createAttempts := fm.createAttempts
	fm.mu.Unlock()
	if createAttempts != 0 {
		t.Fatalf("Initial-state proposal must not attempt agreement creation, got %d attempts", createAttempts)
	}
}

func TestStopUnsubscribes(t *testing.T) {
	fm := &fakeMarket{}
	n := negotiator.New(fm, market.Demand{})
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := n.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if !fm.unsubscribed {
		t.Fatal("expected Stop to unsubscribe from the market")
	}
}
