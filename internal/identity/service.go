package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"udhaar.org/internal/auth"
	"udhaar.org/internal/ids"
)

const defaultPIN = "1234"

// Service provides registration, login and profile operations on top of a
// Store. It owns the User/Business/Customer records the ledger reads but
// never mutates.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Register creates a User plus the role-appropriate Business or Customer
// profile. Business accounts start with the default access PIN until the
// owner changes it on the profile page.
func (s *Service) Register(ctx context.Context, phone, password, name, role string) (*Account, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)
	role = strings.TrimSpace(strings.ToLower(role))

	if phone == "" || !allDigits(phone) || len(phone) < 6 {
		return nil, fmt.Errorf("%w: phone number must be numeric", ErrInvalidInput)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	if role != RoleBusiness && role != RoleCustomer {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if name == "" {
		name = "User " + phone[len(phone)-4:]
	}

	if existing, err := s.store.Users(ctx).FindByPhone(ctx, phone); err == nil && existing != nil {
		return nil, ErrDuplicatePhone
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Name:         name,
		PhoneNumber:  phone,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}

	account := &Account{User: user}
	if role == RoleBusiness {
		business := &Business{
			ID:          ids.New(),
			UserID:      user.ID,
			Name:        name + "'s Business",
			Description: "Auto-created business account",
			AccessPIN:   defaultPIN,
			CreatedAt:   now,
		}
		if err := s.store.Businesses(ctx).Create(ctx, business); err != nil {
			return nil, err
		}
		account.Business = business
	} else {
		customer := &Customer{
			ID:          ids.New(),
			UserID:      user.ID,
			Name:        name,
			PhoneNumber: phone,
			CreatedAt:   now,
		}
		if err := s.store.Customers(ctx).Create(ctx, customer); err != nil {
			return nil, err
		}
		account.Customer = customer
	}
	return account, nil
}

// Login verifies credentials for the given role and returns the account with
// its profile attached. Wrong phone, wrong password and wrong role all
// surface the same ErrInvalidCredential.
func (s *Service) Login(ctx context.Context, phone, password, role string) (*Account, error) {
	phone = strings.TrimSpace(phone)
	role = strings.TrimSpace(strings.ToLower(role))

	user, err := s.store.Users(ctx).FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if user.Role != role {
		return nil, ErrInvalidCredential
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredential
	}

	account := &Account{User: user}
	switch role {
	case RoleBusiness:
		business, err := s.store.Businesses(ctx).FindByUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		account.Business = business
	case RoleCustomer:
		customer, err := s.store.Customers(ctx).FindByUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		account.Customer = customer
	}
	return account, nil
}

// Connect verifies a business pairing code and PIN. The returned business is
// what the caller pairs a customer with via the relationship resolver.
func (s *Service) Connect(ctx context.Context, businessCode, pin string) (*Business, error) {
	businessCode = strings.TrimSpace(businessCode)
	if err := ids.Validate(businessCode); err != nil {
		return nil, err
	}
	business, err := s.store.Businesses(ctx).Find(ctx, businessCode)
	if err != nil {
		return nil, err
	}
	if pin = strings.TrimSpace(pin); pin != "" && pin != business.AccessPIN {
		return nil, ErrInvalidPIN
	}
	return business, nil
}

// UpdateBusinessProfile mutates the business name, description and access
// PIN. The PIN must stay a 4-digit code.
func (s *Service) UpdateBusinessProfile(ctx context.Context, businessID, name, description, pin string) (*Business, error) {
	if err := ids.Validate(businessID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: business name is required", ErrInvalidInput)
	}
	if len(pin) != 4 || !allDigits(pin) {
		return nil, fmt.Errorf("%w: access PIN must be 4 digits", ErrInvalidInput)
	}
	if err := s.store.Businesses(ctx).UpdateProfile(ctx, businessID, name, strings.TrimSpace(description), pin); err != nil {
		return nil, err
	}
	return s.store.Businesses(ctx).Find(ctx, businessID)
}

// BusinessByID resolves a business for display. Callers render a placeholder
// on ErrNotFound instead of failing the page.
func (s *Service) BusinessByID(ctx context.Context, id string) (*Business, error) {
	if err := ids.Validate(id); err != nil {
		return nil, err
	}
	return s.store.Businesses(ctx).Find(ctx, id)
}

// CustomerByID resolves a customer for display.
func (s *Service) CustomerByID(ctx context.Context, id string) (*Customer, error) {
	if err := ids.Validate(id); err != nil {
		return nil, err
	}
	return s.store.Customers(ctx).Find(ctx, id)
}

// BusinessByUserID resolves the business profile owned by a user.
func (s *Service) BusinessByUserID(ctx context.Context, userID string) (*Business, error) {
	if err := ids.Validate(userID); err != nil {
		return nil, err
	}
	return s.store.Businesses(ctx).FindByUser(ctx, userID)
}

// CustomerByUserID resolves the customer profile owned by a user.
func (s *Service) CustomerByUserID(ctx context.Context, userID string) (*Customer, error) {
	if err := ids.Validate(userID); err != nil {
		return nil, err
	}
	return s.store.Customers(ctx).FindByUser(ctx, userID)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
