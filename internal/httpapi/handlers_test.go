package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"udhaar.org/internal/auth"
	"udhaar.org/internal/feed"
	"udhaar.org/internal/identity"
	"udhaar.org/internal/ledger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("UDHAAR_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := New(Options{
		Ledger:   ledger.NewInMemory(),
		Identity: identity.NewService(identity.NewInMemoryStore()),
		Feed:     feed.New(),
		Version:  "test",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func register(t *testing.T, c *apiClient, phone, name, role string) authResponse {
	t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/register", registerRequest{
		PhoneNumber: phone,
		Password:    "secret123",
		Name:        name,
		UserType:    role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", role, resp.StatusCode)
	}
	return decode[authResponse](t, resp)
}

func TestEndToEndCreditFlow(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500001", "Asha", identity.RoleBusiness)
	business.token = bizAccount.Token
	custAccount := register(t, customer, "9876500002", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	// Business shares its pairing code; the default PIN applies until changed.
	pairing := decode[map[string]string](t, business.do(http.MethodGet, "/v1/business/pairing-code", nil))
	if pairing["access_pin"] != "1234" {
		t.Fatalf("expected default PIN, got %q", pairing["access_pin"])
	}

	resp := customer.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: pairing["business_code"],
		PIN:          "1234",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	customerID := custAccount.Account.Customer.ID
	businessID := bizAccount.Account.Business.ID

	resp = business.do(http.MethodPost, "/v1/credits", recordRequest{
		CustomerID: customerID,
		Amount:     500,
		Note:       "groceries",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record credit: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = customer.do(http.MethodPost, "/v1/payments", recordRequest{
		BusinessID: businessID,
		Amount:     200,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record payment: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	pairPath := "/v1/pairs/" + businessID + "/" + customerID
	for _, c := range []*apiClient{business, customer} {
		view := decode[ledger.PairView](t, c.do(http.MethodGet, pairPath, nil))
		if view.Relationship.CurrentBalance != 300 {
			t.Fatalf("expected balance 300, got %d", view.Relationship.CurrentBalance)
		}
		if len(view.Transactions) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(view.Transactions))
		}
		if view.Transactions[0].Type != ledger.TypePayment || view.Transactions[1].Type != ledger.TypeCredit {
			t.Fatalf("history not reverse-chronological: %+v", view.Transactions)
		}
		if view.CreditTotal != 500 || view.PaymentTotal != 200 {
			t.Fatalf("unexpected totals: %+v", view)
		}
	}
}

func TestCreditRequestLifecycle(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500011", "Asha", identity.RoleBusiness)
	business.token = bizAccount.Token
	custAccount := register(t, customer, "9876500012", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	resp := customer.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: bizAccount.Account.Business.ID,
		PIN:          "1234",
	})
	resp.Body.Close()

	req := decode[ledger.Transaction](t, customer.do(http.MethodPost, "/v1/credit-requests", recordRequest{
		BusinessID: bizAccount.Account.Business.ID,
		Amount:     900,
		Note:       "school fees",
	}))
	if req.Status != ledger.StatusPending {
		t.Fatalf("expected pending request, got %q", req.Status)
	}

	// Pending request must not move the balance.
	pairPath := "/v1/pairs/" + bizAccount.Account.Business.ID + "/" + custAccount.Account.Customer.ID
	view := decode[ledger.PairView](t, customer.do(http.MethodGet, pairPath, nil))
	if view.Relationship.CurrentBalance != 0 {
		t.Fatalf("pending request moved balance: %d", view.Relationship.CurrentBalance)
	}

	credit := decode[ledger.Transaction](t, business.do(http.MethodPost, "/v1/credit-requests/"+req.ID+"/approve", nil))
	if credit.Type != ledger.TypeCredit || credit.RequestID != req.ID {
		t.Fatalf("unexpected approval credit: %+v", credit)
	}

	view = decode[ledger.PairView](t, customer.do(http.MethodGet, pairPath, nil))
	if view.Relationship.CurrentBalance != 900 {
		t.Fatalf("expected balance 900 after approval, got %d", view.Relationship.CurrentBalance)
	}

	// Second approval must conflict.
	resp = business.do(http.MethodPost, "/v1/credit-requests/"+req.ID+"/approve", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double approve, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestForeignBusinessCannotResolveRequest(t *testing.T) {
	srv := newTestServer(t)

	owner := &apiClient{t: t, base: srv.URL}
	intruder := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	ownerAccount := register(t, owner, "9876500091", "Asha", identity.RoleBusiness)
	owner.token = ownerAccount.Token
	intruderAccount := register(t, intruder, "9876500092", "Vik", identity.RoleBusiness)
	intruder.token = intruderAccount.Token
	custAccount := register(t, customer, "9876500093", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	resp := customer.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: ownerAccount.Account.Business.ID,
		PIN:          "1234",
	})
	resp.Body.Close()

	req := decode[ledger.Transaction](t, customer.do(http.MethodPost, "/v1/credit-requests", recordRequest{
		BusinessID: ownerAccount.Account.Business.ID,
		Amount:     400,
	}))

	// Another business must not be able to resolve the request, and the
	// denied call must leave no trace in the pair's ledger.
	for _, action := range []string{"approve", "reject"} {
		resp = intruder.do(http.MethodPost, "/v1/credit-requests/"+req.ID+"/"+action, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for foreign %s, got %d", action, resp.StatusCode)
		}
		resp.Body.Close()
	}

	pairPath := "/v1/pairs/" + ownerAccount.Account.Business.ID + "/" + custAccount.Account.Customer.ID
	view := decode[ledger.PairView](t, customer.do(http.MethodGet, pairPath, nil))
	if view.Relationship.CurrentBalance != 0 {
		t.Fatalf("denied resolution moved balance: %d", view.Relationship.CurrentBalance)
	}

	// The request is still pending, so the owner resolves it normally.
	credit := decode[ledger.Transaction](t, owner.do(http.MethodPost, "/v1/credit-requests/"+req.ID+"/approve", nil))
	if credit.Type != ledger.TypeCredit || credit.RequestID != req.ID {
		t.Fatalf("owner approval failed after denied foreign attempt: %+v", credit)
	}
	view = decode[ledger.PairView](t, customer.do(http.MethodGet, pairPath, nil))
	if view.Relationship.CurrentBalance != 400 {
		t.Fatalf("expected balance 400 after owner approval, got %d", view.Relationship.CurrentBalance)
	}
}

func TestDuplicatePhoneConflict(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	register(t, c, "9876500021", "Asha", identity.RoleBusiness)
	resp := c.do(http.MethodPost, "/v1/auth/register", registerRequest{
		PhoneNumber: "9876500021",
		Password:    "secret123",
		UserType:    identity.RoleCustomer,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWrongPINForbidden(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500031", "Asha", identity.RoleBusiness)
	custAccount := register(t, customer, "9876500032", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	resp := customer.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: bizAccount.Account.Business.ID,
		PIN:          "0000",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong PIN, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleEnforcement(t *testing.T) {
	srv := newTestServer(t)
	customer := &apiClient{t: t, base: srv.URL}
	custAccount := register(t, customer, "9876500041", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	resp := customer.do(http.MethodGet, "/v1/business/summary", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer reading business summary, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = customer.do(http.MethodPost, "/v1/credit-requests/"+custAccount.Account.Customer.ID+"/approve", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer approving a request, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	business := &apiClient{t: t, base: srv.URL}
	bizAccount := register(t, business, "9876500042", "Asha", identity.RoleBusiness)
	business.token = bizAccount.Token

	resp = business.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: bizAccount.Account.Business.ID,
		PIN:          "1234",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for business connecting, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCustomerTakesCredit(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500045", "Asha", identity.RoleBusiness)
	custAccount := register(t, customer, "9876500046", "Ravi", identity.RoleCustomer)
	customer.token = custAccount.Token

	resp := customer.do(http.MethodPost, "/v1/connect", connectRequest{
		BusinessCode: bizAccount.Account.Business.ID,
		PIN:          "1234",
	})
	resp.Body.Close()

	tx := decode[ledger.Transaction](t, customer.do(http.MethodPost, "/v1/credits", recordRequest{
		BusinessID: bizAccount.Account.Business.ID,
		Amount:     250,
		Note:       "self-service",
	}))
	if tx.Type != ledger.TypeCredit || tx.CustomerID != custAccount.Account.Customer.ID {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestPairVisibilityForbiddenForThirdParty(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}
	other := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500051", "Asha", identity.RoleBusiness)
	custAccount := register(t, customer, "9876500052", "Ravi", identity.RoleCustomer)
	otherAccount := register(t, other, "9876500053", "Meena", identity.RoleCustomer)
	other.token = otherAccount.Token

	resp := other.do(http.MethodGet, "/v1/pairs/"+bizAccount.Account.Business.ID+"/"+custAccount.Account.Customer.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for third party, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBusinessAddsCustomerIdempotently(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	customer := &apiClient{t: t, base: srv.URL}

	bizAccount := register(t, business, "9876500081", "Asha", identity.RoleBusiness)
	business.token = bizAccount.Token
	custAccount := register(t, customer, "9876500082", "Ravi", identity.RoleCustomer)

	first := decode[ledger.CreditRelationship](t, business.do(http.MethodPost, "/v1/business/customers", recordRequest{
		CustomerID: custAccount.Account.Customer.ID,
	}))
	second := decode[ledger.CreditRelationship](t, business.do(http.MethodPost, "/v1/business/customers", recordRequest{
		CustomerID: custAccount.Account.Customer.ID,
	}))
	if first.ID != second.ID {
		t.Fatalf("resolver created duplicate rows: %s vs %s", first.ID, second.ID)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	resp := c.do(http.MethodGet, "/v1/business/summary", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	srv := newTestServer(t)
	c := &apiClient{t: t, base: srv.URL}

	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"phone_number": "9876500061",
		"password":     "secret123",
		"user_type":    "business",
		"bogus":        true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProfileUpdateChangesPIN(t *testing.T) {
	srv := newTestServer(t)

	business := &apiClient{t: t, base: srv.URL}
	bizAccount := register(t, business, "9876500071", "Asha", identity.RoleBusiness)
	business.token = bizAccount.Token

	updated := decode[identity.Business](t, business.do(http.MethodPut, "/v1/business/profile", profileUpdateRequest{
		Name:        "Asha General Store",
		Description: "Groceries and staples",
		AccessPIN:   "4321",
	}))
	if updated.Name != "Asha General Store" || updated.AccessPIN != "4321" {
		t.Fatalf("profile not updated: %+v", updated)
	}

	pairing := decode[map[string]string](t, business.do(http.MethodGet, "/v1/business/pairing-code", nil))
	if pairing["access_pin"] != "4321" {
		t.Fatalf("pairing code did not pick up new PIN: %+v", pairing)
	}
}
