package httpapi

import (
	"net/http"

	"udhaar.org/internal/auth"
	"udhaar.org/internal/identity"
)

type registerRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	UserType    string `json:"user_type"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
	UserType    string `json:"user_type"`
}

type authResponse struct {
	Token   string            `json:"token"`
	Account *identity.Account `json:"account"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, err := a.identity.Register(r.Context(), req.PhoneNumber, req.Password, req.Name, req.UserType)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(account.User.ID, account.User.Role, account.ProfileID(), a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r.Context(), "identity.register", map[string]any{
		"user_id": account.User.ID,
		"role":    account.User.Role,
	})
	writeJSON(w, http.StatusCreated, authResponse{Token: token, Account: account})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, err := a.identity.Login(r.Context(), req.PhoneNumber, req.Password, req.UserType)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(account.User.ID, account.User.Role, account.ProfileID(), a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r.Context(), "identity.login", map[string]any{
		"user_id": account.User.ID,
		"role":    account.User.Role,
	})
	writeJSON(w, http.StatusOK, authResponse{Token: token, Account: account})
}
