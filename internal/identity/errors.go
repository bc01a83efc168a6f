package identity

import "errors"

var (
	ErrNotFound          = errors.New("identity: not found")
	ErrDuplicatePhone    = errors.New("identity: phone number already registered")
	ErrInvalidCredential = errors.New("identity: invalid credentials")
	ErrInvalidPIN        = errors.New("identity: incorrect access PIN")
	ErrInvalidInput      = errors.New("identity: invalid input")
)
