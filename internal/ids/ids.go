package ids

import (
	"errors"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrMalformed indicates an identifier that is not UUID-shaped. Callers must
// treat this as a hard validation failure rather than minting a replacement;
// a silently repaired reference would just orphan the entity it pointed at.
var ErrMalformed = errors.New("malformed identifier")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh UUID string used as an entity identifier.
func New() string {
	return uuid.NewString()
}

// Validate reports ErrMalformed unless id is a well-formed UUID.
func Validate(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrMalformed
	}
	return nil
}

// NewRequestID returns a lexicographically sortable identifier used to tag
// HTTP requests and audit entries.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
