// Package payment is the external collaborator contract for the
// requestor-side payment API: funds allocation plus debit-note and
// invoice event polling. pkg/paymentmgr is written against this
// interface alone.
package payment

import (
	"context"
	"time"
)

// EventType discriminates an invoice event kind.
type EventType int

const (
	// Received marks an invoice as newly issued and ready to fetch.
	Received EventType = iota
	Other
)

// RejectionReason is the fixed vocabulary of invoice rejection reasons.
type RejectionReason string

// UnsolicitedService is issued when an invoice references an agreement
// the payment manager never accepted.
const UnsolicitedService RejectionReason = "UnsolicitedService"

// DebitNoteEvent is one entry in the debit-note event stream.
type DebitNoteEvent struct {
	Timestamp time.Time
	NoteID    string
}

// InvoiceEvent is one entry in the invoice event stream.
type InvoiceEvent struct {
	Timestamp time.Time
	InvoiceID string
	Type      EventType
}

// Invoice is a provider's request for payment against one agreement.
type Invoice struct {
	ID          string
	AgreementID string
	Amount      float64
	IssuerID    string
}

// Acceptance is submitted to accept an invoice in full.
type Acceptance struct {
	TotalAmountAccepted float64
	AllocationID        string
}

// Rejection is submitted to reject an invoice.
type Rejection struct {
	Reason              RejectionReason
	TotalAmountAccepted float64
	Message             string
}

// Client is the set of payment operations the payment manager drives.
type Client interface {
	CreateAllocation(ctx context.Context, amount float64) (allocationID string, err error)
	ReleaseAllocation(ctx context.Context, allocationID string) error
	GetDebitNoteEvents(ctx context.Context, since time.Time) ([]DebitNoteEvent, error)
	GetInvoiceEvents(ctx context.Context, since time.Time) ([]InvoiceEvent, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	AcceptInvoice(ctx context.Context, id string, acceptance Acceptance) error
	RejectInvoice(ctx context.Context, id string, rejection Rejection) error
}
