package gateflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// CheckResult is the server's answer to check-address
type CheckResult struct {
	Authorized bool   `json:"authorized"`
	DeviceName string `json:"deviceName"`
	IP         string `json:"ip"`
	Error      string `json:"error"`
}

// User is the administrator returned by a successful login
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// LoginError carries a failed login's status and server message
type LoginError struct {
	Status  int
	Message string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed (%d): %s", e.Status, e.Message)
}

// ErrUnexpectedResponse is returned for responses the client cannot interpret
var ErrUnexpectedResponse = errors.New("unexpected response from server")

// sessionCookieName must match the server's cookie
const sessionCookieName = "admin_session"

// Client talks to the /authorization endpoints and keeps cookies in a jar
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a Client for the server at baseURL. A nil httpClient gets a
// 10 second timeout; a client without a jar gets one.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	return &Client{base: base, http: httpClient}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// CheckAddress asks whether address may reach the login. A 403 is a normal denial;
// transport failures and other statuses are errors.
func (c *Client) CheckAddress(ctx context.Context, address string) (*CheckResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/authorization/check-address", map[string]string{"address": address})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
		return &result, nil
	default:
		return nil, fmt.Errorf("%w: check-address returned %d: %s", ErrUnexpectedResponse, resp.StatusCode, result.Error)
	}
}

// PublicIP returns the address the server sees for this client
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/authorization/public-ip", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		IP string `json:"ip"`
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: public-ip returned %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return body.IP, nil
}

// Login submits credentials. On success the session cookie is stored in the jar.
func (c *Client) Login(ctx context.Context, username, password, address string) (*User, error) {
	payload := map[string]string{"username": username, "password": password}
	if address != "" {
		payload["address"] = address
	}

	resp, err := c.do(ctx, http.MethodPost, "/authorization/login", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		User    *User  `json:"user"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success || body.User == nil {
		return nil, &LoginError{Status: resp.StatusCode, Message: body.Error}
	}
	return body.User, nil
}

// Logout clears the server session cookie
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/authorization/login", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: logout returned %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	return nil
}

// SessionCookie returns the stored admin_session value, if any
func (c *Client) SessionCookie() (string, bool) {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == sessionCookieName && ck.Value != "" {
			return ck.Value, true
		}
	}
	return "", false
}

// SetSessionCookie seeds the jar with a previously stored session value
func (c *Client) SetSessionCookie(value string) {
	c.http.Jar.SetCookies(c.base, []*http.Cookie{{Name: sessionCookieName, Value: value, Path: "/"}})
}
