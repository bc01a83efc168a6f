package identity

import "time"

// Roles supported by the service. A user owns exactly one Business or one
// Customer profile, never both.
const (
	RoleBusiness = "business"
	RoleCustomer = "customer"
)

// User is an authenticated identity keyed by phone number.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"user_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Business is a credit-granting entity. Its ID doubles as the public
// connect code shared with customers; AccessPIN is the 4-digit pairing
// secret.
type Business struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AccessPIN   string    `json:"access_pin"`
	CreatedAt   time.Time `json:"created_at"`
}

// Customer is a credit-receiving entity.
type Customer struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account bundles a user with its role-specific profile.
type Account struct {
	User     *User     `json:"user"`
	Business *Business `json:"business,omitempty"`
	Customer *Customer `json:"customer,omitempty"`
}

// ProfileID returns the business or customer identifier for the account.
func (a Account) ProfileID() string {
	switch {
	case a.Business != nil:
		return a.Business.ID
	case a.Customer != nil:
		return a.Customer.ID
	}
	return ""
}
