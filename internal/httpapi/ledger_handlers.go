package httpapi

import (
	"net/http"
	"strings"
	"time"

	"udhaar.org/internal/auth"
	"udhaar.org/internal/feed"
	"udhaar.org/internal/identity"
	"udhaar.org/internal/ledger"
	"udhaar.org/internal/obs"
)

type connectRequest struct {
	BusinessCode string `json:"business_code"`
	PIN          string `json:"pin"`
}

type recordRequest struct {
	BusinessID string `json:"business_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Amount     int64  `json:"amount"`
	Note       string `json:"note"`
}

type profileUpdateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AccessPIN   string `json:"access_pin"`
}

type relationshipItem struct {
	ledger.CreditRelationship
	Name string `json:"name"`
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	customerID, ok := a.requireRole(w, r, identity.RoleCustomer)
	if !ok {
		return
	}

	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	business, err := a.identity.Connect(r.Context(), req.BusinessCode, req.PIN)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	rel, err := a.ledger.EnsureRelationship(r.Context(), business.ID, customerID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.connect", map[string]any{
		"business_id": business.ID,
		"customer_id": customerID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"relationship": rel,
		"business":     business,
	})
}

func (a *API) handleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	role, profileID, ok := a.requireAnyRole(w, r)
	if !ok {
		return
	}

	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// A business extends credit to a customer; a customer takes credit from a
	// business it is paired with. Either way the caller's own side comes from
	// the token.
	var businessID, customerID string
	switch role {
	case identity.RoleBusiness:
		businessID, customerID = profileID, req.CustomerID
		// A business transacting with a new customer implicitly adds them;
		// the resolver guarantees the pair row before the write.
		if err := a.ensurePairForBusiness(w, r, businessID, customerID); err != nil {
			return
		}
	case identity.RoleCustomer:
		businessID, customerID = req.BusinessID, profileID
	}

	tx, err := a.ledger.RecordCredit(r.Context(), businessID, customerID, req.Amount, strings.TrimSpace(req.Note))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publish(tx)
	a.audit(r.Context(), "ledger.credit.record", map[string]any{
		"business_id": businessID,
		"customer_id": customerID,
		"amount":      req.Amount,
	})
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	role, profileID, ok := a.requireAnyRole(w, r)
	if !ok {
		return
	}

	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Each side names the opposite party; its own side comes from the token.
	var businessID, customerID string
	switch role {
	case identity.RoleBusiness:
		businessID, customerID = profileID, req.CustomerID
		if err := a.ensurePairForBusiness(w, r, businessID, customerID); err != nil {
			return
		}
	case identity.RoleCustomer:
		businessID, customerID = req.BusinessID, profileID
	}

	tx, err := a.ledger.RecordPayment(r.Context(), businessID, customerID, req.Amount, strings.TrimSpace(req.Note))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publish(tx)
	a.audit(r.Context(), "ledger.payment.record", map[string]any{
		"business_id": businessID,
		"customer_id": customerID,
		"amount":      req.Amount,
	})
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) handleCreditRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	customerID, ok := a.requireRole(w, r, identity.RoleCustomer)
	if !ok {
		return
	}

	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := a.ledger.RequestCredit(r.Context(), req.BusinessID, customerID, req.Amount, strings.TrimSpace(req.Note))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.request.create", map[string]any{
		"business_id": req.BusinessID,
		"amount":      req.Amount,
	})
	writeJSON(w, http.StatusCreated, tx)
}

// handleCreditRequestResource resolves /v1/credit-requests/{id}/approve and
// /v1/credit-requests/{id}/reject.
func (a *API) handleCreditRequestResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	businessID, ok := a.requireRole(w, r, identity.RoleBusiness)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/credit-requests/")
	requestID, action, found := strings.Cut(path, "/")
	if !found || requestID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if action != "approve" && action != "reject" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// Ownership is verified before any state changes; a foreign business must
	// not be able to resolve the request as a side effect of a denied call.
	req, err := a.ledger.Request(r.Context(), requestID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if req.BusinessID != businessID {
		writeError(w, r, http.StatusForbidden, "request belongs to another business")
		return
	}

	var (
		tx    ledger.Transaction
		event string
	)
	switch action {
	case "approve":
		tx, err = a.ledger.ApproveRequest(r.Context(), requestID)
		event = "ledger.request.approve"
	case "reject":
		tx, err = a.ledger.RejectRequest(r.Context(), requestID)
		event = "ledger.request.reject"
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	if action == "approve" {
		a.publish(tx)
	}
	a.audit(r.Context(), event, map[string]any{
		"request_id": requestID,
	})
	writeJSON(w, http.StatusOK, tx)
}

// handlePairResource resolves /v1/pairs/{businessID}/{customerID} and
// /v1/pairs/{businessID}/{customerID}/transactions.
func (a *API) handlePairResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	_, profileID, ok := a.requireAnyRole(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/pairs/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	businessID, customerID := parts[0], parts[1]

	// A pair is visible only to its two parties.
	if profileID != businessID && profileID != customerID {
		writeError(w, r, http.StatusForbidden, "not a party to this relationship")
		return
	}

	switch {
	case len(parts) == 2:
		view, err := a.ledger.PairView(r.Context(), businessID, customerID)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case len(parts) == 3 && parts[2] == "transactions":
		txs, err := a.ledger.ListTransactions(r.Context(), businessID, customerID)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": txs,
			"as_of": time.Now().UTC(),
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleBusinessSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	businessID, ok := a.requireRole(w, r, identity.RoleBusiness)
	if !ok {
		return
	}

	sum, err := a.ledger.BusinessSummary(r.Context(), businessID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleBusinessCustomers(w http.ResponseWriter, r *http.Request) {
	businessID, ok := a.requireRole(w, r, identity.RoleBusiness)
	if !ok {
		return
	}

	// POST adds a customer by ID: the resolver creates the pair row if absent.
	if r.Method == http.MethodPost {
		var req recordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := a.identity.CustomerByID(r.Context(), req.CustomerID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		rel, err := a.ledger.EnsureRelationship(r.Context(), businessID, req.CustomerID)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		a.audit(r.Context(), "ledger.customer.add", map[string]any{
			"customer_id": req.CustomerID,
		})
		writeJSON(w, http.StatusCreated, rel)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	rels, err := a.ledger.BusinessRelationships(r.Context(), businessID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	items := make([]relationshipItem, 0, len(rels))
	for _, rel := range rels {
		// A missing profile renders as a placeholder, never fails the page.
		name := "Unknown customer"
		if customer, err := a.identity.CustomerByID(r.Context(), rel.CustomerID); err == nil {
			name = customer.Name
		}
		items = append(items, relationshipItem{CreditRelationship: rel, Name: name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCustomerBusinesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	customerID, ok := a.requireRole(w, r, identity.RoleCustomer)
	if !ok {
		return
	}

	rels, err := a.ledger.CustomerRelationships(r.Context(), customerID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	items := make([]relationshipItem, 0, len(rels))
	for _, rel := range rels {
		name := "Unknown business"
		if business, err := a.identity.BusinessByID(r.Context(), rel.BusinessID); err == nil {
			name = business.Name
		}
		items = append(items, relationshipItem{CreditRelationship: rel, Name: name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleBusinessProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	businessID, ok := a.requireRole(w, r, identity.RoleBusiness)
	if !ok {
		return
	}

	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	business, err := a.identity.UpdateBusinessProfile(r.Context(), businessID, req.Name, req.Description, req.AccessPIN)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	a.audit(r.Context(), "identity.business.profile_update", nil)
	writeJSON(w, http.StatusOK, business)
}

// handlePairingCode returns what the business shares with a customer to pair:
// the connect code (its ID) and the current access PIN.
func (a *API) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	businessID, ok := a.requireRole(w, r, identity.RoleBusiness)
	if !ok {
		return
	}

	business, err := a.identity.BusinessByID(r.Context(), businessID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_code": business.ID,
		"access_pin":    business.AccessPIN,
	})
}

// publish pushes a balance-affecting write to the live feed and metrics.
func (a *API) publish(tx ledger.Transaction) {
	obs.CountTransaction(string(tx.Type))
	if a.feed == nil {
		return
	}
	evt := feed.Event{
		BusinessID: tx.BusinessID,
		CustomerID: tx.CustomerID,
		Type:       tx.Type,
		Amount:     tx.Amount,
		Timestamp:  time.Now().UTC(),
	}
	a.feed.Publish(evt)
}

// ensurePairForBusiness resolves the relationship for a business-initiated
// write, verifying the customer exists first. Writes the error response
// itself; callers just return on non-nil error.
func (a *API) ensurePairForBusiness(w http.ResponseWriter, r *http.Request, businessID, customerID string) error {
	if _, err := a.identity.CustomerByID(r.Context(), customerID); err != nil {
		handleIdentityError(w, r, err)
		return err
	}
	if _, err := a.ledger.EnsureRelationship(r.Context(), businessID, customerID); err != nil {
		handleLedgerError(w, r, err)
		return err
	}
	return nil
}

func (a *API) requireRole(w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	if !auth.HasRole(r.Context(), role) {
		writeError(w, r, http.StatusForbidden, "requires "+role+" role")
		return "", false
	}
	profileID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "no profile bound to token")
		return "", false
	}
	return profileID, true
}

func (a *API) requireAnyRole(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	role, ok := auth.RoleFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", "", false
	}
	profileID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "no profile bound to token")
		return "", "", false
	}
	return role, profileID, true
}
