// Package market is the external collaborator contract for the
// requestor-side market API: posting demands, collecting market events
// and negotiating agreements. A concrete implementation talks to a
// real marketplace (e.g. over REST); pkg/negotiator is written against
// this interface alone, mirroring the way pkg/sandbox.Sandbox isolates
// the engine contract from its consumers.
package market

import (
	"context"
	"time"
)

// ProposalState is the negotiation state of a Proposal.
type ProposalState int

const (
	// Initial is a freshly-received proposal that has not yet been
	// countered with our own demand.
	Initial ProposalState = iota
	// Draft (or any later state) is ready for agreement creation.
	Draft
)

// Demand is the JSON document describing what we're willing to pay
// for compute. NodeName, TaskPackage and Expiration are its well-known
// properties; Constraints is rendered as its free-form LDAP-like
// expression requiring minimum memory/storage and linear pricing.
type Demand struct {
	NodeName    string
	TaskPackage string // content-addressed image URN, from pkg/store.PushImage
	Expiration  time.Time
	Constraints string
}

// Proposal is one offer in response to a posted Demand.
type Proposal struct {
	ID             string
	IssuerID       string
	State          ProposalState
	PrevProposalID *string
}

// RequestorEvent is one item returned by Collect. Only ProposalEvent is
// modeled; events without a Proposal are ignored by the negotiator.
type RequestorEvent struct {
	Proposal *Proposal
}

// Client is the set of market operations the negotiator drives.
type Client interface {
	Subscribe(ctx context.Context, demand Demand) (subscriptionID string, err error)
	Collect(ctx context.Context, subscriptionID string, timeout time.Duration, max int) ([]RequestorEvent, error)
	CounterProposal(ctx context.Context, subscriptionID string, p Proposal, demand Demand) (newProposalID string, err error)
	CreateAgreement(ctx context.Context, proposalID string, expiration time.Time) (agreementID string, err error)
	ConfirmAgreement(ctx context.Context, agreementID string) error
	WaitForApproval(ctx context.Context, agreementID string, timeout time.Duration) error
	Unsubscribe(ctx context.Context, subscriptionID string) error
}
