package ledger

import (
	"errors"
	"time"

	"udhaar.org/internal/ids"
)

// TransactionType tags a ledger entry. Only credit and payment affect the
// derived balance; a credit_request is inert until approved.
type TransactionType string

const (
	TypeCredit        TransactionType = "credit"
	TypePayment       TransactionType = "payment"
	TypeCreditRequest TransactionType = "credit_request"
)

// RequestStatus is the lifecycle of a credit_request. Other transaction
// types carry no status.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Transaction is an immutable ledger entry. Amounts are minor units (paise).
// No floats. Core fields never change after insert; only the Status and
// UpdatedAt of a credit_request may move, and rows are never deleted.
type Transaction struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	CustomerID string          `json:"customer_id"`
	Amount     int64           `json:"amount"`
	Type       TransactionType `json:"transaction_type"`
	Status     RequestStatus   `json:"status,omitempty"`
	Note       string          `json:"notes,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at,omitempty"`
}

// CountsTowardBalance reports whether the entry contributes to the derived
// balance. Pending, approved and rejected requests all return false: the
// balance effect of an approval is carried by the credit transaction it
// spawns, never by the request row itself.
func (t Transaction) CountsTowardBalance() bool {
	return t.Type == TypeCredit || t.Type == TypePayment
}

// Delta is the signed balance effect of the entry. Positive means the
// customer owes the business more.
func (t Transaction) Delta() int64 {
	switch t.Type {
	case TypeCredit:
		return t.Amount
	case TypePayment:
		return -t.Amount
	default:
		return 0
	}
}

// CreditRelationship is the derived-balance record for one
// (business, customer) pair. At most one exists per pair.
type CreditRelationship struct {
	ID             string    `json:"id"`
	BusinessID     string    `json:"business_id"`
	CustomerID     string    `json:"customer_id"`
	CurrentBalance int64     `json:"current_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PairView bundles everything the pair detail page needs: the derived
// balance, the running totals and the reverse-chronological history.
type PairView struct {
	Relationship CreditRelationship `json:"relationship"`
	Transactions []Transaction      `json:"transactions"`
	CreditTotal  int64              `json:"credit_total"`
	PaymentTotal int64              `json:"payment_total"`
}

// BusinessSummary aggregates a business's side of the ledger.
type BusinessSummary struct {
	TotalCustomers int           `json:"total_customers"`
	TotalCredit    int64         `json:"total_credit"`
	TotalPayments  int64         `json:"total_payments"`
	Recent         []Transaction `json:"recent_transactions"`
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidAmount   = errors.New("invalid amount (must be > 0)")
	ErrNoRelationship  = errors.New("no credit relationship for pair")
	ErrRequestResolved = errors.New("credit request already resolved")

	// ErrInvalidID aliases the shared identifier validation error so callers
	// can match either way.
	ErrInvalidID = ids.ErrMalformed
)

// ReplayBalance folds a transaction history into a balance. This is the
// canonical definition of correctness: the incrementally maintained
// CurrentBalance must always equal the replay over the pair's log. Order is
// irrelevant since the terms commute.
func ReplayBalance(txs []Transaction) int64 {
	var balance int64
	for _, tx := range txs {
		balance += tx.Delta()
	}
	return balance
}
