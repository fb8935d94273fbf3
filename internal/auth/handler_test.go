package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/voltmoto/site/backend/internal/context"
	"github.com/voltmoto/site/backend/internal/session"
)

func newTestRouter(env *testEnv) *chi.Mux {
	handler := NewHandler(env.service, env.checker, session.DefaultCookieConfig(),
		[]netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}, nil)
	r := chi.NewRouter()
	RegisterRoutes(r, handler, nil)
	r.Route("/admin", func(r chi.Router) { RegisterAdminRoutes(r, handler, nil) })
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func cookieNames(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestCheckAddressUnknownIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/check-address",
		map[string]string{"address": "203.0.113.7"}, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"authorized": false,
		"error":      "IP address not authorized",
		"ip":         "203.0.113.7",
	}, decodeMap(t, rec))
}

func TestCheckAddressKnownIsAuthorized(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/check-address",
		map[string]string{"address": "198.51.100.2"}, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"authorized": true,
		"deviceName": "office",
		"ip":         "198.51.100.2",
	}, decodeMap(t, rec))
}

func TestCheckAddressMissingAddress(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/check-address",
		map[string]string{}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"authorized": false,
		"error":      "address is required",
	}, decodeMap(t, rec))
}

func TestCheckAddressInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.checker.err = errors.New("connection reset")
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/check-address",
		map[string]string{"address": "198.51.100.2"}, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"authorized": false,
		"error":      "Internal server error",
	}, decodeMap(t, rec))
}

func TestPublicIP(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	req := httptest.NewRequest(http.MethodGet, "/authorization/public-ip", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, `{"ip":"203.0.113.7"}`+"\n", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/authorization/public-ip", nil)
	req.RemoteAddr = "192.0.2.8:4444"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, `{"ip":"192.0.2.8"}`+"\n", rec.Body.String())
}

func TestLoginSuccessSetsCookies(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/login",
		LoginRequest{Username: "rider", Password: testPassword, Address: "198.51.100.2"}, "198.51.100.2:5000")
	env.runner.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, env.admin.ID.String(), user["id"])
	assert.Equal(t, "rider", user["username"])
	assert.Equal(t, "rider@voltmoto.example", user["email"])
	assert.Equal(t, "admin", user["role"])

	cookies := cookieNames(rec)
	require.Contains(t, cookies, session.CookieName)
	require.Contains(t, cookies, session.DeviceCookieName)
	assert.True(t, cookies[session.CookieName].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[session.CookieName].SameSite)
	assert.Equal(t, "true", cookies[session.DeviceCookieName].Value)

	decoded, err := env.codec.Decode(cookies[session.CookieName].Value)
	require.NoError(t, err)
	assert.Equal(t, env.admin.ID, decoded.PrincipalID)
}

func TestLoginWrongPasswordSetsNoCookies(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/login",
		LoginRequest{Username: "rider", Password: "not-the-password", Address: "198.51.100.2"}, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "Invalid credentials"}, decodeMap(t, rec))
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginUnauthorizedAddressIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/login",
		LoginRequest{Username: "rider", Password: testPassword, Address: "203.0.113.7"}, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "IP address not authorized"}, decodeMap(t, rec))
	assert.Empty(t, rec.Result().Cookies())
	assert.Zero(t, env.principals.lookups)
}

func TestLoginWithoutAddressRequiresTrustedConnection(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	req := LoginRequest{Username: "rider", Password: testPassword}

	rec := doJSON(t, router, http.MethodPost, "/authorization/login", req, "203.0.113.50:1234")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "address is required"}, decodeMap(t, rec))

	rec = doJSON(t, router, http.MethodPost, "/authorization/login", req, "127.0.0.1:1234")
	env.runner.Wait()
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/login",
		map[string]string{"username": "rider", "address": "198.51.100.2"}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeMap(t, rec)["success"])
}

func TestLoginLockedOutReturns429(t *testing.T) {
	env := newTestEnv(t)
	env.lockout.failures["rider"] = 3

	rec := doJSON(t, newTestRouter(env), http.MethodPost, "/authorization/login",
		LoginRequest{Username: "rider", Password: testPassword, Address: "198.51.100.2"}, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	rec := doJSON(t, newTestRouter(env), http.MethodDelete, "/authorization/login", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true}, decodeMap(t, rec))
	cookies := cookieNames(rec)
	require.Contains(t, cookies, session.CookieName)
	assert.Less(t, cookies[session.CookieName].MaxAge, 0)
}

func TestMeReadsSessionFromContext(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHandler(env.service, env.checker, session.DefaultCookieConfig(), nil, nil)

	s := session.Session{PrincipalID: uuid.New(), Username: "rider", Role: "admin", IssuedAt: time.Now()}
	req := httptest.NewRequest(http.MethodGet, "/admin/api/me", nil)
	req = req.WithContext(appctx.WithSession(context.Background(), s))
	rec := httptest.NewRecorder()
	handler.Me(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"rider"`)

	rec = httptest.NewRecorder()
	handler.Me(rec, httptest.NewRequest(http.MethodGet, "/admin/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
