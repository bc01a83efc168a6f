package store

import (
	"context"
	"time"

	"udhaar.org/internal/identity"
	"udhaar.org/internal/ledger"
	"udhaar.org/internal/obs"
	"udhaar.org/internal/store/pg"
)

// Backends bundles the persistence implementations selected at startup.
type Backends struct {
	Ledger   ledger.Service
	Identity identity.Store
	Fallback bool

	pgStore *pg.Store
}

// PG exposes the underlying PostgreSQL store when one was selected.
func (b Backends) PG() *pg.Store { return b.pgStore }

// Close releases the database pool if one is held.
func (b Backends) Close() error {
	if b.pgStore != nil {
		return b.pgStore.Close()
	}
	return nil
}

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Select probes the database and returns PostgreSQL-backed services when it
// answers within the retry budget, or in-memory fallbacks otherwise. The
// fallback keeps the API available without persistence; data written there is
// lost on restart.
func Select(ctx context.Context, dsn string, attempts int, delay time.Duration) (Backends, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	if dsn != "" {
		if st, ok := probe(ctx, dsn, attempts, delay); ok {
			obs.SetFallbackActive(false)
			return Backends{
				Ledger:   st,
				Identity: pg.NewIdentityStore(st.DB()),
				pgStore:  st,
			}, nil
		}
	}

	obs.SetFallbackActive(true)
	return Backends{
		Ledger:   ledger.NewInMemory(),
		Identity: identity.NewInMemoryStore(),
		Fallback: true,
	}, nil
}

func probe(ctx context.Context, dsn string, attempts int, delay time.Duration) (*pg.Store, bool) {
	logger := obs.Logger()
	for attempt := 1; attempt <= attempts; attempt++ {
		st, err := pg.Open(dsn)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = st.DB().PingContext(pingCtx)
			cancel()
			if err == nil {
				return st, true
			}
			_ = st.Close()
		}
		logger.Printf(`{"type":"store","msg":"database unreachable","attempt":%d,"error":%q}`, attempt, err.Error())
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false
		}
	}
	return nil, false
}
