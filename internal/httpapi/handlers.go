package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"udhaar.org/internal/audit"
	"udhaar.org/internal/feed"
	"udhaar.org/internal/identity"
	"udhaar.org/internal/ledger"
	"udhaar.org/internal/obs"
)

// ReadyProbe reports readiness; with no DB it always passes (fallback mode).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Ledger   ledger.Service
	Identity *identity.Service
	Feed     *feed.Feed
	Ready    ReadyProbe
	Version  string
	Fallback bool
	TokenTTL time.Duration
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	ledger   ledger.Service
	identity *identity.Service
	feed     *feed.Feed
	ready    ReadyProbe
	version  string
	fallback bool
	tokenTTL time.Duration
}

func New(opts Options) *API {
	a := &API{
		mux:      http.NewServeMux(),
		ledger:   opts.Ledger,
		identity: opts.Identity,
		feed:     opts.Feed,
		ready:    opts.Ready,
		version:  opts.Version,
		fallback: opts.Fallback,
		tokenTTL: opts.TokenTTL,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 24 * time.Hour
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	a.mux.HandleFunc("/v1/connect", a.handleConnect)
	a.mux.HandleFunc("/v1/credits", a.handleCredits)
	a.mux.HandleFunc("/v1/payments", a.handlePayments)
	a.mux.HandleFunc("/v1/credit-requests", a.handleCreditRequests)
	a.mux.HandleFunc("/v1/credit-requests/", a.handleCreditRequestResource)
	a.mux.HandleFunc("/v1/pairs/", a.handlePairResource)

	a.mux.HandleFunc("/v1/business/summary", a.handleBusinessSummary)
	a.mux.HandleFunc("/v1/business/customers", a.handleBusinessCustomers)
	a.mux.HandleFunc("/v1/business/profile", a.handleBusinessProfile)
	a.mux.HandleFunc("/v1/business/pairing-code", a.handlePairingCode)
	a.mux.HandleFunc("/v1/customer/businesses", a.handleCustomerBusinesses)

	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "udhaar-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"fallback": a.fallback,
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "udhaar-api",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"fallback": a.fallback,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Printf(`{"type":"audit","msg":"audit log failed","error":%q}`, err.Error())
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidID):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrRequestResolved):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNoRelationship), errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrInvalidPIN):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrDuplicatePhone):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidID):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
