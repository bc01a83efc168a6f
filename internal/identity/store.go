package identity

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Businesses(ctx context.Context) BusinessStore
	Customers(ctx context.Context) CustomerStore
}

// UserStore manages users. Phone numbers are unique across all users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
}

// BusinessStore manages business profiles.
type BusinessStore interface {
	Create(ctx context.Context, b *Business) error
	Find(ctx context.Context, id string) (*Business, error)
	FindByUser(ctx context.Context, userID string) (*Business, error)
	UpdateProfile(ctx context.Context, id, name, description, pin string) error
}

// CustomerStore manages customer profiles.
type CustomerStore interface {
	Create(ctx context.Context, c *Customer) error
	Find(ctx context.Context, id string) (*Customer, error)
	FindByUser(ctx context.Context, userID string) (*Customer, error)
}
