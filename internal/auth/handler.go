package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	appctx "github.com/voltmoto/site/backend/internal/context"
	"github.com/voltmoto/site/backend/internal/middleware"
	"github.com/voltmoto/site/backend/internal/session"
)

// Response messages
const (
	MsgAddressRequired     = "address is required"
	MsgAddressDenied       = "IP address not authorized"
	MsgInvalidCredentials  = "Invalid credentials"
	MsgTooManyAttempts     = "Too many failed login attempts. Please try again later."
	MsgInternalError       = "Internal server error"
	MsgInvalidRequestBody  = "Invalid request body"
	MsgCredentialsRequired = "username and password are required"
)

var validate = validator.New()

// CheckAddressRequest is the check-address payload
type CheckAddressRequest struct {
	Address string `json:"address"`
}

// CheckAddressResponse is returned by check-address
type CheckAddressResponse struct {
	Authorized bool   `json:"authorized"`
	DeviceName string `json:"deviceName,omitempty"`
	IP         string `json:"ip,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UserResponse describes the logged-in administrator
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// LoginResponse is returned by login and logout
type LoginResponse struct {
	Success bool          `json:"success"`
	User    *UserResponse `json:"user,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Handler serves the /authorization endpoints
type Handler struct {
	service   *Service
	addresses AddressChecker
	cookies   session.CookieConfig
	trusted   []netip.Prefix
	logger    *slog.Logger
}

// NewHandler creates a Handler. Logins without an address are accepted only from
// connections whose address is inside one of the trusted prefixes.
func NewHandler(service *Service, addresses AddressChecker, cookies session.CookieConfig, trusted []netip.Prefix, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   service,
		addresses: addresses,
		cookies:   cookies,
		trusted:   trusted,
		logger:    logger,
	}
}

// CheckAddress handles POST /authorization/check-address
func (h *Handler) CheckAddress(w http.ResponseWriter, r *http.Request) {
	var req CheckAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CheckAddressResponse{Error: MsgInvalidRequestBody})
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeJSON(w, http.StatusBadRequest, CheckAddressResponse{Error: MsgAddressRequired})
		return
	}

	result := h.addresses.Check(r.Context(), req.Address, r.UserAgent())
	switch {
	case result.Err != nil:
		writeJSON(w, http.StatusInternalServerError, CheckAddressResponse{Error: MsgInternalError})
	case !result.Authorized:
		writeJSON(w, http.StatusForbidden, CheckAddressResponse{Error: MsgAddressDenied, IP: req.Address})
	default:
		writeJSON(w, http.StatusOK, CheckAddressResponse{Authorized: true, DeviceName: result.Name, IP: req.Address})
	}
}

// PublicIP handles GET /authorization/public-ip
func (h *Handler) PublicIP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ip": middleware.ClientIP(r)})
}

// Login handles POST /authorization/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, LoginResponse{Error: MsgInvalidRequestBody})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, LoginResponse{Error: MsgCredentialsRequired})
		return
	}
	if req.Address == "" && !h.isTrusted(r) {
		writeJSON(w, http.StatusBadRequest, LoginResponse{Error: MsgAddressRequired})
		return
	}

	result, err := h.service.Login(r.Context(), req, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	session.SetSessionCookie(w, h.cookies, result.Token)
	session.SetDeviceCookie(w, h.cookies)

	writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		User: &UserResponse{
			ID:       result.Principal.ID.String(),
			Username: result.Principal.Username,
			Email:    result.Principal.Email,
			Role:     result.Principal.Role,
		},
	})
}

// Logout handles DELETE /authorization/login
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session.ClearSessionCookie(w, h.cookies)
	writeJSON(w, http.StatusOK, LoginResponse{Success: true})
}

// Me handles GET /admin/api/me behind the gate
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := appctx.ExtractSession(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Error: "not logged in"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": UserResponse{
			ID:       s.PrincipalID.String(),
			Username: s.Username,
			Email:    s.Email,
			Role:     s.Role,
		},
		"issuedAt": s.IssuedAt,
	})
}

// Dashboard handles GET /admin/dashboard, where a successful login lands
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := appctx.ExtractSession(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Error: "not logged in"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":     "admin-dashboard",
		"username": s.Username,
		"products": "/admin/api/products",
		"attempts": "/admin/api/access-attempts",
	})
}

// LoginPage handles GET on the protected prefix root, which the gate leaves open
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":         "admin-login",
		"checkAddress": "/authorization/check-address",
		"publicIP":     "/authorization/public-ip",
		"login":        "/authorization/login",
	})
}

func (h *Handler) isTrusted(r *http.Request) bool {
	addr, err := netip.ParseAddr(middleware.ConnectionIP(r))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAddressNotAuthorized):
		writeJSON(w, http.StatusForbidden, LoginResponse{Error: MsgAddressDenied})
	case errors.Is(err, ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Error: MsgInvalidCredentials})
	case errors.Is(err, ErrTooManyAttempts):
		w.Header().Set("Retry-After", strconv.Itoa(int(h.service.LockoutDuration().Seconds())))
		writeJSON(w, http.StatusTooManyRequests, LoginResponse{Error: MsgTooManyAttempts})
	default:
		h.logger.Error("Login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, LoginResponse{Error: MsgInternalError})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
