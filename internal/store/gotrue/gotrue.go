// Package gotrue implements the Identity Store against a GoTrue-style
// auth service admin API (the kind hosted Supabase deployments expose).
//
// The client needs the service-role key to call /admin endpoints. The key
// is injected at construction; it is never persisted and never logged.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/store"
)

const defaultTimeout = 10 * time.Second

// Client talks to one auth service deployment.
type Client struct {
	baseURL    string
	serviceKey identity.Secret
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a client for the auth service at baseURL.
func New(baseURL string, serviceKey identity.Secret, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("auth service url is required")
	}
	if serviceKey.IsZero() {
		return nil, fmt.Errorf("service key is required")
	}

	c := &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// user is the wire shape of an auth service account.
type user struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	EmailConfirmedAt string            `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]string `json:"user_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at,omitempty"`
}

func (u *user) toIdentity() *identity.Identity {
	return &identity.Identity{
		ID:        u.ID,
		Email:     identity.NormalizeEmail(u.Email),
		Confirmed: u.EmailConfirmedAt != "",
		Metadata:  u.UserMetadata,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// FindByEmail lists users filtered by email and matches case-insensitively
// on the normalized address. A miss is (nil, nil).
func (c *Client) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	endpoint := c.baseURL + "/admin/users?email=" + url.QueryEscape(email)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, "identity find")
	if err != nil {
		return nil, err
	}

	var list struct {
		Users []user `json:"users"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse user list: %w", err)
	}
	for i := range list.Users {
		if identity.NormalizeEmail(list.Users[i].Email) == email {
			return list.Users[i].toIdentity(), nil
		}
	}
	return nil, nil
}

// Create provisions an account. confirmed pre-sets email confirmation, the
// administrative path that skips the confirmation mail.
func (c *Client) Create(ctx context.Context, email string, credential identity.Secret, confirmed bool) (*identity.Identity, error) {
	email = identity.NormalizeEmail(email)
	if err := identity.ValidateEmail(email); err != nil {
		return nil, store.NewValidationError("email", err)
	}

	payload, err := json.Marshal(map[string]any{
		"email":         email,
		"password":      credential.Reveal(),
		"email_confirm": confirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/users", payload, "identity create")
	if err != nil {
		return nil, err
	}

	var u user
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("parse created user: %w", err)
	}
	c.logger.Info().Str("email", email).Str("id", u.ID).Msg("identity created")
	return u.toIdentity(), nil
}

// Update modifies an account in place.
func (c *Client) Update(ctx context.Context, id string, upd store.IdentityUpdate) (*identity.Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("identity id is required")
	}

	fields := map[string]any{}
	if upd.Email != nil {
		email := identity.NormalizeEmail(*upd.Email)
		if err := identity.ValidateEmail(email); err != nil {
			return nil, store.NewValidationError("email", err)
		}
		fields["email"] = email
	}
	if upd.Credential != nil {
		fields["password"] = upd.Credential.Reveal()
	}
	if upd.Confirmed != nil {
		fields["email_confirm"] = *upd.Confirmed
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal update request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPut, c.baseURL+"/admin/users/"+url.PathEscape(id), payload, "identity update")
	if err != nil {
		return nil, err
	}

	var u user
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("parse updated user: %w", err)
	}
	c.logger.Info().Str("id", u.ID).Msg("identity updated")
	return u.toIdentity(), nil
}

// SignIn probes a credential via the password grant. A rejected grant is
// ErrInvalidCredentials, never a transport failure.
func (c *Client) SignIn(ctx context.Context, email string, credential identity.Secret) error {
	email = identity.NormalizeEmail(email)

	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": credential.Reveal(),
	})
	if err != nil {
		return fmt.Errorf("marshal sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/token?grant_type=password", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sign-in request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return store.NewTransportError("sign in", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return store.ErrInvalidCredentials
	case resp.StatusCode >= 500:
		return store.NewTransportError("sign in", fmt.Errorf("auth service returned %s", resp.Status))
	default:
		return &store.TransportError{Op: "sign in", Err: fmt.Errorf("auth service returned %s", resp.Status)}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, op string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, store.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, store.NewTransportError(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, c.apiError(op, resp.StatusCode, body)
}

func (c *Client) setHeaders(req *http.Request) {
	key := c.serviceKey.Reveal()
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("apikey", key)
	req.Header.Set("Content-Type", "application/json")
}

// apiError maps an error response onto the store taxonomy. The auth
// service reports duplicate emails with varying phrasing across versions,
// so both forms are matched.
func (c *Client) apiError(op string, status int, body []byte) error {
	var apiErr struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
		Error   string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := strings.ToLower(apiErr.Msg + " " + apiErr.Message + " " + apiErr.Error)

	if strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already been registered") {
		return store.ErrEmailAlreadyRegistered
	}

	err := fmt.Errorf("auth service returned %d: %s", status, strings.TrimSpace(msg))
	switch {
	case status >= 500:
		return store.NewTransportError(op, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &store.TransportError{Op: op, Err: err, Retryable: false}
	default:
		return &store.TransportError{Op: op, Err: err, Retryable: false}
	}
}

var _ store.IdentityStore = (*Client)(nil)
