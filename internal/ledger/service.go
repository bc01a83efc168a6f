package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"udhaar.org/internal/ids"
)

// Service defines the ledger operations shared by the durable Postgres store
// and the in-memory fallback. Implementations must apply a transaction's
// balance effect atomically with its insert: callers can never observe one
// without the other.
type Service interface {
	// EnsureRelationship is the relationship resolver: idempotent
	// insert-if-absent keyed on (businessID, customerID). Repeated or
	// concurrent calls leave exactly one row and never touch an existing
	// balance.
	EnsureRelationship(ctx context.Context, businessID, customerID string) (CreditRelationship, error)
	Relationship(ctx context.Context, businessID, customerID string) (CreditRelationship, error)

	RecordCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error)
	RecordPayment(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error)
	RequestCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error)
	// Request fetches a credit request regardless of status, letting callers
	// check ownership before resolving it.
	Request(ctx context.Context, requestID string) (Transaction, error)
	ApproveRequest(ctx context.Context, requestID string) (Transaction, error)
	RejectRequest(ctx context.Context, requestID string) (Transaction, error)

	ListTransactions(ctx context.Context, businessID, customerID string) ([]Transaction, error)
	PairView(ctx context.Context, businessID, customerID string) (PairView, error)
	BusinessSummary(ctx context.Context, businessID string) (BusinessSummary, error)
	BusinessRelationships(ctx context.Context, businessID string) ([]CreditRelationship, error)
	CustomerRelationships(ctx context.Context, customerID string) ([]CreditRelationship, error)
}

type pairKey struct {
	business string
	customer string
}

// InMemory implements Service with in-process concurrency safety. It is the
// degraded-mode substitute used when Postgres is unreachable: nothing
// persists past the process and no cross-instance consistency is promised.
type InMemory struct {
	mu   sync.RWMutex
	rels map[pairKey]*CreditRelationship
	txs  []*Transaction
	byID map[string]*Transaction
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		rels: make(map[pairKey]*CreditRelationship),
		byID: make(map[string]*Transaction),
	}
}

var _ Service = (*InMemory)(nil)

func validatePair(businessID, customerID string) error {
	if err := ids.Validate(businessID); err != nil {
		return err
	}
	return ids.Validate(customerID)
}

func (s *InMemory) EnsureRelationship(ctx context.Context, businessID, customerID string) (CreditRelationship, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return CreditRelationship{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{business: businessID, customer: customerID}
	if rel, ok := s.rels[key]; ok {
		return *rel, nil
	}
	now := time.Now().UTC()
	rel := &CreditRelationship{
		ID:         ids.New(),
		BusinessID: businessID,
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.rels[key] = rel
	return *rel, nil
}

func (s *InMemory) Relationship(ctx context.Context, businessID, customerID string) (CreditRelationship, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return CreditRelationship{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.rels[pairKey{business: businessID, customer: customerID}]
	if !ok {
		return CreditRelationship{}, ErrNoRelationship
	}
	return *rel, nil
}

func (s *InMemory) RecordCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error) {
	return s.record(businessID, customerID, amount, note, TypeCredit)
}

func (s *InMemory) RecordPayment(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error) {
	return s.record(businessID, customerID, amount, note, TypePayment)
}

// record appends a balance-affecting transaction and applies its delta under
// one lock acquisition, serializing concurrent writers for the same pair.
func (s *InMemory) record(businessID, customerID string, amount int64, note string, typ TransactionType) (Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return Transaction{}, err
	}
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[pairKey{business: businessID, customer: customerID}]
	if !ok {
		return Transaction{}, ErrNoRelationship
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:         ids.New(),
		BusinessID: businessID,
		CustomerID: customerID,
		Amount:     amount,
		Type:       typ,
		Note:       note,
		CreatedAt:  now,
	}
	s.append(tx)

	rel.CurrentBalance += tx.Delta()
	rel.UpdatedAt = now
	return *tx, nil
}

func (s *InMemory) RequestCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return Transaction{}, err
	}
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rels[pairKey{business: businessID, customer: customerID}]; !ok {
		return Transaction{}, ErrNoRelationship
	}

	tx := &Transaction{
		ID:         ids.New(),
		BusinessID: businessID,
		CustomerID: customerID,
		Amount:     amount,
		Type:       TypeCreditRequest,
		Status:     StatusPending,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}
	s.append(tx)
	// Pending requests never move the balance.
	return *tx, nil
}

func (s *InMemory) Request(ctx context.Context, requestID string) (Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return Transaction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[requestID]
	if !ok || req.Type != TypeCreditRequest {
		return Transaction{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) ApproveRequest(ctx context.Context, requestID string) (Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.pendingRequest(requestID)
	if err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	req.Status = StatusApproved
	req.UpdatedAt = now

	note := "Approved request"
	if req.Note != "" {
		note = "Approved request: " + req.Note
	}
	credit := &Transaction{
		ID:         ids.New(),
		BusinessID: req.BusinessID,
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Type:       TypeCredit,
		Note:       note,
		RequestID:  req.ID,
		CreatedAt:  now,
	}
	s.append(credit)

	rel, ok := s.rels[pairKey{business: req.BusinessID, customer: req.CustomerID}]
	if !ok {
		return Transaction{}, ErrNoRelationship
	}
	rel.CurrentBalance += credit.Delta()
	rel.UpdatedAt = now
	return *credit, nil
}

func (s *InMemory) RejectRequest(ctx context.Context, requestID string) (Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.pendingRequest(requestID)
	if err != nil {
		return Transaction{}, err
	}
	// Status flip only. The row stays in the ledger.
	req.Status = StatusRejected
	req.UpdatedAt = time.Now().UTC()
	return *req, nil
}

func (s *InMemory) pendingRequest(requestID string) (*Transaction, error) {
	req, ok := s.byID[requestID]
	if !ok || req.Type != TypeCreditRequest {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrRequestResolved
	}
	return req, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, businessID, customerID string) ([]Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Transaction
	for _, tx := range s.txs {
		if tx.BusinessID == businessID && tx.CustomerID == customerID {
			res = append(res, *tx)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

func (s *InMemory) PairView(ctx context.Context, businessID, customerID string) (PairView, error) {
	rel, err := s.Relationship(ctx, businessID, customerID)
	if err != nil {
		return PairView{}, err
	}
	txs, err := s.ListTransactions(ctx, businessID, customerID)
	if err != nil {
		return PairView{}, err
	}
	view := PairView{Relationship: rel, Transactions: txs}
	for _, tx := range txs {
		switch tx.Type {
		case TypeCredit:
			view.CreditTotal += tx.Amount
		case TypePayment:
			view.PaymentTotal += tx.Amount
		}
	}
	return view, nil
}

func (s *InMemory) BusinessSummary(ctx context.Context, businessID string) (BusinessSummary, error) {
	if err := ids.Validate(businessID); err != nil {
		return BusinessSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum BusinessSummary
	for key := range s.rels {
		if key.business == businessID {
			sum.TotalCustomers++
		}
	}
	for _, tx := range s.txs {
		if tx.BusinessID != businessID {
			continue
		}
		switch tx.Type {
		case TypeCredit:
			sum.TotalCredit += tx.Amount
		case TypePayment:
			sum.TotalPayments += tx.Amount
		}
		sum.Recent = append(sum.Recent, *tx)
	}
	sortNewestFirst(sum.Recent)
	return sum, nil
}

func (s *InMemory) BusinessRelationships(ctx context.Context, businessID string) ([]CreditRelationship, error) {
	if err := ids.Validate(businessID); err != nil {
		return nil, err
	}
	return s.relationships(func(rel *CreditRelationship) bool {
		return rel.BusinessID == businessID
	}), nil
}

func (s *InMemory) CustomerRelationships(ctx context.Context, customerID string) ([]CreditRelationship, error) {
	if err := ids.Validate(customerID); err != nil {
		return nil, err
	}
	return s.relationships(func(rel *CreditRelationship) bool {
		return rel.CustomerID == customerID
	}), nil
}

func (s *InMemory) relationships(match func(*CreditRelationship) bool) []CreditRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []CreditRelationship
	for _, rel := range s.rels {
		if match(rel) {
			res = append(res, *rel)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

func (s *InMemory) append(tx *Transaction) {
	s.txs = append(s.txs, tx)
	s.byID[tx.ID] = tx
}

// sortNewestFirst orders reverse-chronologically; the store itself promises
// no ordering, presentation order is the service's job.
func sortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
}
