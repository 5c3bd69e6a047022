package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"gatehouse/internal/auth"
	"gatehouse/internal/authz"
	"gatehouse/internal/gate"
	"gatehouse/internal/principal"
	"gatehouse/internal/transport/http/shared"
	domainerrors "gatehouse/pkg/domain-errors"
)

// Handler is the thin HTTP layer. It delegates to the auth service and the
// authorization matrix; transport concerns stay here.
type Handler struct {
	auth   *auth.Service
	matrix authz.Matrix
	logger *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(authSvc *auth.Service, matrix authz.Matrix, logger *slog.Logger) *Handler {
	return &Handler{
		auth:   authSvc,
		matrix: matrix,
		logger: logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type principalResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type credentialResponse struct {
	AuthToken string            `json:"auth_token"`
	Principal principalResponse `json:"principal"`
}

func toPrincipalResponse(p *principal.Principal) principalResponse {
	return principalResponse{
		ID:       p.ID,
		Email:    p.Email,
		Username: p.Username,
		Role:     string(p.Role),
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "request body is not valid JSON"))
		return
	}

	credential, created, err := h.auth.Register(r.Context(), auth.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, credentialResponse{
		AuthToken: credential,
		Principal: toPrincipalResponse(created),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "request body is not valid JSON"))
		return
	}

	credential, caller, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, credentialResponse{
		AuthToken: credential,
		Principal: toPrincipalResponse(caller),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, _ := gate.IdentityFrom(r.Context())

	if err := h.auth.Logout(r.Context(), caller); err != nil {
		shared.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := gate.IdentityFrom(r.Context())

	if err := h.matrix.Authorize(caller.Role, authz.OpProfileRead); err != nil {
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, toPrincipalResponse(caller))
}
