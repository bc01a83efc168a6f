package pg

import (
	"context"
	"database/sql"
	"errors"

	"udhaar.org/internal/identity"
)

// IdentityStore implements identity.Store on the same PostgreSQL pool as the
// ledger Store.
type IdentityStore struct {
	db *sql.DB
}

var _ identity.Store = (*IdentityStore)(nil)

// NewIdentityStore wraps an existing connection pool.
func NewIdentityStore(db *sql.DB) *IdentityStore { return &IdentityStore{db: db} }

func (s *IdentityStore) Users(ctx context.Context) identity.UserStore {
	return (*userStore)(s)
}

func (s *IdentityStore) Businesses(ctx context.Context) identity.BusinessStore {
	return (*businessStore)(s)
}

func (s *IdentityStore) Customers(ctx context.Context) identity.CustomerStore {
	return (*customerStore)(s)
}

type userStore IdentityStore

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, name, phone_number, password_hash, user_type, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Name, u.PhoneNumber, u.PasswordHash, u.Role, u.CreatedAt)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	return s.findUser(ctx, `where id=$1`, id)
}

func (s *userStore) FindByPhone(ctx context.Context, phone string) (*identity.User, error) {
	return s.findUser(ctx, `where phone_number=$1`, phone)
}

func (s *userStore) findUser(ctx context.Context, where string, arg any) (*identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, name, phone_number, password_hash, user_type, created_at
		from users `+where, arg,
	).Scan(&u.ID, &u.Name, &u.PhoneNumber, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type businessStore IdentityStore

func (s *businessStore) Create(ctx context.Context, b *identity.Business) error {
	_, err := s.db.ExecContext(ctx, `
		insert into businesses(id, user_id, name, description, access_pin, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, b.ID, b.UserID, b.Name, b.Description, b.AccessPIN, b.CreatedAt)
	return err
}

func (s *businessStore) Find(ctx context.Context, id string) (*identity.Business, error) {
	return s.findBusiness(ctx, `where id=$1`, id)
}

func (s *businessStore) FindByUser(ctx context.Context, userID string) (*identity.Business, error) {
	return s.findBusiness(ctx, `where user_id=$1`, userID)
}

func (s *businessStore) findBusiness(ctx context.Context, where string, arg any) (*identity.Business, error) {
	var b identity.Business
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, name, coalesce(description,''), access_pin, created_at
		from businesses `+where, arg,
	).Scan(&b.ID, &b.UserID, &b.Name, &b.Description, &b.AccessPIN, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *businessStore) UpdateProfile(ctx context.Context, id, name, description, pin string) error {
	res, err := s.db.ExecContext(ctx, `
		update businesses set name=$2, description=$3, access_pin=$4 where id=$1
	`, id, name, description, pin)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type customerStore IdentityStore

func (s *customerStore) Create(ctx context.Context, c *identity.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		insert into customers(id, user_id, name, phone_number, created_at)
		values ($1,$2,$3,$4,$5)
	`, c.ID, c.UserID, c.Name, c.PhoneNumber, c.CreatedAt)
	return err
}

func (s *customerStore) Find(ctx context.Context, id string) (*identity.Customer, error) {
	return s.findCustomer(ctx, `where id=$1`, id)
}

func (s *customerStore) FindByUser(ctx context.Context, userID string) (*identity.Customer, error) {
	return s.findCustomer(ctx, `where user_id=$1`, userID)
}

func (s *customerStore) findCustomer(ctx context.Context, where string, arg any) (*identity.Customer, error) {
	var c identity.Customer
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, name, coalesce(phone_number,''), created_at
		from customers `+where, arg,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.PhoneNumber, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
