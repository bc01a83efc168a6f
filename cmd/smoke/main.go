// Command smoke drives a running udhaar-api instance through the full credit
// flow: register both roles, pair them, record a credit and a payment, then
// verify the balance from both sides.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("UDHAAR_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	suffix := fmt.Sprintf("%06d", rnd.Intn(1_000_000))

	bizToken, biz := register(base, "98765"+suffix, "Smoke Business", "business")
	custToken, cust := register(base, "87654"+suffix, "Smoke Customer", "customer")

	bizID := biz["account"].(map[string]any)["business"].(map[string]any)["id"].(string)
	custID := cust["account"].(map[string]any)["customer"].(map[string]any)["id"].(string)

	call(base, custToken, http.MethodPost, "/v1/connect", map[string]any{
		"business_code": bizID,
		"pin":           "1234",
	}, http.StatusOK)

	call(base, bizToken, http.MethodPost, "/v1/credits", map[string]any{
		"customer_id": custID,
		"amount":      500,
		"note":        "smoke credit",
	}, http.StatusCreated)

	call(base, custToken, http.MethodPost, "/v1/payments", map[string]any{
		"business_id": bizID,
		"amount":      200,
	}, http.StatusCreated)

	pair := "/v1/pairs/" + bizID + "/" + custID
	for _, token := range []string{bizToken, custToken} {
		view := call(base, token, http.MethodGet, pair, nil, http.StatusOK)
		rel := view["relationship"].(map[string]any)
		if bal := int64(rel["current_balance"].(float64)); bal != 300 {
			log.Fatalf("balance mismatch: expected 300, got %d", bal)
		}
	}

	fmt.Println("smoke ok: both sides agree on balance 300")
}

func register(base, phone, name, role string) (string, map[string]any) {
	resp := call(base, "", http.MethodPost, "/v1/auth/register", map[string]any{
		"phone_number": phone,
		"password":     "smoke-secret",
		"name":         name,
		"user_type":    role,
	}, http.StatusCreated)
	return resp["token"].(string), resp
}

func call(base, token, method, path string, body any, wantStatus int) map[string]any {
	var buf *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
		buf = bytes.NewReader(data)
	} else {
		buf = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, base+path, buf)
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, body %v", method, path, resp.StatusCode, out)
	}
	return out
}
