package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"udhaar.org/internal/ids"
	"udhaar.org/internal/ledger"
)

// Store implements ledger.Service on PostgreSQL. Balance updates run as
// server-side arithmetic inside the same transaction as the ledger insert,
// so concurrent writers for a pair can never lose an update.
type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool (used by tests and failover probing).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) EnsureRelationship(ctx context.Context, businessID, customerID string) (ledger.CreditRelationship, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return ledger.CreditRelationship{}, err
	}

	// Insert-if-absent keyed on the pair; the unique index makes concurrent
	// first contact converge on a single row.
	if _, err := s.db.ExecContext(ctx, `
		insert into customer_credits(id, business_id, customer_id, current_balance)
		values ($1,$2,$3,0)
		on conflict (business_id, customer_id) do nothing
	`, ids.New(), businessID, customerID); err != nil {
		return ledger.CreditRelationship{}, err
	}
	return s.Relationship(ctx, businessID, customerID)
}

func (s *Store) Relationship(ctx context.Context, businessID, customerID string) (ledger.CreditRelationship, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return ledger.CreditRelationship{}, err
	}
	var rel ledger.CreditRelationship
	err := s.db.QueryRowContext(ctx, `
		select id, business_id, customer_id, current_balance, created_at, updated_at
		from customer_credits where business_id=$1 and customer_id=$2
	`, businessID, customerID).Scan(&rel.ID, &rel.BusinessID, &rel.CustomerID, &rel.CurrentBalance, &rel.CreatedAt, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CreditRelationship{}, ledger.ErrNoRelationship
	}
	if err != nil {
		return ledger.CreditRelationship{}, err
	}
	return rel, nil
}

func (s *Store) RecordCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (ledger.Transaction, error) {
	return s.record(ctx, businessID, customerID, amount, note, ledger.TypeCredit, "")
}

func (s *Store) RecordPayment(ctx context.Context, businessID, customerID string, amount int64, note string) (ledger.Transaction, error) {
	return s.record(ctx, businessID, customerID, amount, note, ledger.TypePayment, "")
}

func (s *Store) record(ctx context.Context, businessID, customerID string, amount int64, note string, typ ledger.TransactionType, requestID string) (ledger.Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return ledger.Transaction{}, err
	}
	if amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := applyTransaction(ctx, tx, businessID, customerID, amount, note, typ, requestID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

// applyTransaction inserts a balance-affecting entry and applies its delta as
// an atomic server-side increment within the caller's transaction.
func applyTransaction(ctx context.Context, tx *sql.Tx, businessID, customerID string, amount int64, note string, typ ledger.TransactionType, requestID string) (ledger.Transaction, error) {
	out := ledger.Transaction{
		BusinessID: businessID,
		CustomerID: customerID,
		Amount:     amount,
		Type:       typ,
		Note:       note,
		RequestID:  requestID,
	}

	res, err := tx.ExecContext(ctx, `
		update customer_credits
		set current_balance = current_balance + $3, updated_at = now()
		where business_id=$1 and customer_id=$2
	`, businessID, customerID, out.Delta())
	if err != nil {
		return ledger.Transaction{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.Transaction{}, err
	} else if n == 0 {
		return ledger.Transaction{}, ledger.ErrNoRelationship
	}

	out.ID = ids.New()
	if err := tx.QueryRowContext(ctx, `
		insert into transactions(id, business_id, customer_id, amount, transaction_type, notes, request_id)
		values ($1,$2,$3,$4,$5,$6,nullif($7,'')) returning created_at
	`, out.ID, businessID, customerID, amount, string(typ), note, requestID).Scan(&out.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

func (s *Store) RequestCredit(ctx context.Context, businessID, customerID string, amount int64, note string) (ledger.Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return ledger.Transaction{}, err
	}
	if amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}

	// A request must reference an existing pair but never moves the balance.
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from customer_credits where business_id=$1 and customer_id=$2
	`, businessID, customerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNoRelationship
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	out := ledger.Transaction{
		ID:         ids.New(),
		BusinessID: businessID,
		CustomerID: customerID,
		Amount:     amount,
		Type:       ledger.TypeCreditRequest,
		Status:     ledger.StatusPending,
		Note:       note,
	}
	if err := s.db.QueryRowContext(ctx, `
		insert into transactions(id, business_id, customer_id, amount, transaction_type, notes, status)
		values ($1,$2,$3,$4,$5,$6,$7) returning created_at
	`, out.ID, businessID, customerID, amount, string(ledger.TypeCreditRequest), note, string(ledger.StatusPending)).Scan(&out.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

func (s *Store) Request(ctx context.Context, requestID string) (ledger.Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return ledger.Transaction{}, err
	}
	var (
		req       ledger.Transaction
		status    sql.NullString
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, business_id, customer_id, amount, coalesce(status,''), coalesce(notes,''), created_at, updated_at
		from transactions where id=$1 and transaction_type=$2
	`, requestID, string(ledger.TypeCreditRequest)).Scan(
		&req.ID, &req.BusinessID, &req.CustomerID, &req.Amount, &status, &req.Note, &req.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	req.Type = ledger.TypeCreditRequest
	if status.Valid {
		req.Status = ledger.RequestStatus(status.String)
	}
	if updatedAt.Valid {
		req.UpdatedAt = updatedAt.Time
	}
	return req, nil
}

func (s *Store) ApproveRequest(ctx context.Context, requestID string) (ledger.Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockPendingRequest(ctx, tx, requestID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		update transactions set status=$2, updated_at=now() where id=$1
	`, requestID, string(ledger.StatusApproved)); err != nil {
		return ledger.Transaction{}, err
	}

	note := "Approved request"
	if req.Note != "" {
		note = "Approved request: " + req.Note
	}
	credit, err := applyTransaction(ctx, tx, req.BusinessID, req.CustomerID, req.Amount, note, ledger.TypeCredit, req.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return credit, nil
}

func (s *Store) RejectRequest(ctx context.Context, requestID string) (ledger.Transaction, error) {
	if err := ids.Validate(requestID); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockPendingRequest(ctx, tx, requestID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	// Status flip only; the row is never deleted.
	if _, err := tx.ExecContext(ctx, `
		update transactions set status=$2, updated_at=now() where id=$1
	`, requestID, string(ledger.StatusRejected)); err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	req.Status = ledger.StatusRejected
	return req, nil
}

func lockPendingRequest(ctx context.Context, tx *sql.Tx, requestID string) (ledger.Transaction, error) {
	var (
		req    ledger.Transaction
		status sql.NullString
		note   sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		select id, business_id, customer_id, amount, status, coalesce(notes,''), created_at
		from transactions where id=$1 and transaction_type=$2 for update
	`, requestID, string(ledger.TypeCreditRequest)).Scan(
		&req.ID, &req.BusinessID, &req.CustomerID, &req.Amount, &status, &note, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	req.Type = ledger.TypeCreditRequest
	req.Note = note.String
	if !status.Valid || ledger.RequestStatus(status.String) != ledger.StatusPending {
		return ledger.Transaction{}, ledger.ErrRequestResolved
	}
	req.Status = ledger.StatusPending
	return req, nil
}

func (s *Store) ListTransactions(ctx context.Context, businessID, customerID string) ([]ledger.Transaction, error) {
	if err := validatePair(businessID, customerID); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx, `
		select id, business_id, customer_id, amount, transaction_type,
			coalesce(status,''), coalesce(notes,''), coalesce(request_id,''), created_at, updated_at
		from transactions
		where business_id=$1 and customer_id=$2
		order by created_at desc
	`, businessID, customerID)
}

func (s *Store) PairView(ctx context.Context, businessID, customerID string) (ledger.PairView, error) {
	rel, err := s.Relationship(ctx, businessID, customerID)
	if err != nil {
		return ledger.PairView{}, err
	}
	txs, err := s.ListTransactions(ctx, businessID, customerID)
	if err != nil {
		return ledger.PairView{}, err
	}
	view := ledger.PairView{Relationship: rel, Transactions: txs}
	for _, tx := range txs {
		switch tx.Type {
		case ledger.TypeCredit:
			view.CreditTotal += tx.Amount
		case ledger.TypePayment:
			view.PaymentTotal += tx.Amount
		}
	}
	return view, nil
}

func (s *Store) BusinessSummary(ctx context.Context, businessID string) (ledger.BusinessSummary, error) {
	if err := ids.Validate(businessID); err != nil {
		return ledger.BusinessSummary{}, err
	}

	var sum ledger.BusinessSummary
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from customer_credits where business_id=$1
	`, businessID).Scan(&sum.TotalCustomers); err != nil {
		return ledger.BusinessSummary{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		select
			coalesce(sum(amount) filter (where transaction_type=$2), 0),
			coalesce(sum(amount) filter (where transaction_type=$3), 0)
		from transactions where business_id=$1
	`, businessID, string(ledger.TypeCredit), string(ledger.TypePayment)).Scan(&sum.TotalCredit, &sum.TotalPayments); err != nil {
		return ledger.BusinessSummary{}, err
	}

	recent, err := s.queryTransactions(ctx, `
		select id, business_id, customer_id, amount, transaction_type,
			coalesce(status,''), coalesce(notes,''), coalesce(request_id,''), created_at, updated_at
		from transactions
		where business_id=$1
		order by created_at desc
		limit 50
	`, businessID)
	if err != nil {
		return ledger.BusinessSummary{}, err
	}
	sum.Recent = recent
	return sum, nil
}

func (s *Store) BusinessRelationships(ctx context.Context, businessID string) ([]ledger.CreditRelationship, error) {
	if err := ids.Validate(businessID); err != nil {
		return nil, err
	}
	return s.queryRelationships(ctx, `
		select id, business_id, customer_id, current_balance, created_at, updated_at
		from customer_credits where business_id=$1 order by created_at asc
	`, businessID)
}

func (s *Store) CustomerRelationships(ctx context.Context, customerID string) ([]ledger.CreditRelationship, error) {
	if err := ids.Validate(customerID); err != nil {
		return nil, err
	}
	return s.queryRelationships(ctx, `
		select id, business_id, customer_id, current_balance, created_at, updated_at
		from customer_credits where customer_id=$1 order by created_at asc
	`, customerID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	for rows.Next() {
		var (
			tx        ledger.Transaction
			typ       string
			status    string
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&tx.ID, &tx.BusinessID, &tx.CustomerID, &tx.Amount, &typ,
			&status, &tx.Note, &tx.RequestID, &tx.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		tx.Type = ledger.TransactionType(typ)
		tx.Status = ledger.RequestStatus(status)
		if updatedAt.Valid {
			tx.UpdatedAt = updatedAt.Time
		}
		res = append(res, tx)
	}
	return res, rows.Err()
}

func (s *Store) queryRelationships(ctx context.Context, query string, args ...any) ([]ledger.CreditRelationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.CreditRelationship
	for rows.Next() {
		var rel ledger.CreditRelationship
		if err := rows.Scan(&rel.ID, &rel.BusinessID, &rel.CustomerID, &rel.CurrentBalance, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}

func validatePair(businessID, customerID string) error {
	if err := ids.Validate(businessID); err != nil {
		return err
	}
	return ids.Validate(customerID)
}
