// Package postgrest implements the Profile Store against a PostgREST
// endpoint (the query API hosted deployments put in front of the
// profiles table). Upserts use the merge-duplicates resolution with
// (role, prn) as the conflict target, so the store itself resolves
// concurrent writes to one row.
package postgrest

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

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/store"
)

const defaultTimeout = 10 * time.Second

// Client talks to one PostgREST deployment.
type Client struct {
	baseURL    string
	serviceKey identity.Secret
	table      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTable overrides the profiles table name.
func WithTable(table string) Option {
	return func(c *Client) { c.table = table }
}

// New constructs a client for the REST endpoint at baseURL.
func New(baseURL string, serviceKey identity.Secret, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest url is required")
	}
	if serviceKey.IsZero() {
		return nil, fmt.Errorf("service key is required")
	}

	c := &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		table:      "profiles",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// row is the wire shape of a profiles record.
type row struct {
	Role       string `json:"role"`
	PRN        string `json:"prn"`
	FullName   string `json:"full_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Year       string `json:"year_of_study,omitempty"`
	Division   string `json:"division,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Complete   bool   `json:"is_profile_complete"`
	IdentityID string `json:"identity_id,omitempty"`
}

func fromProfile(p *profile.Profile) row {
	return row{
		Role:       string(p.Role),
		PRN:        profile.CanonicalPRN(p.PRN),
		FullName:   p.FullName,
		Email:      identity.NormalizeEmail(p.Email),
		Department: p.Department,
		Branch:     p.Branch,
		Year:       p.Year,
		Division:   p.Division,
		Phone:      p.Phone,
		Complete:   p.Complete,
		IdentityID: p.IdentityID,
	}
}

func (r row) toProfile() *profile.Profile {
	return &profile.Profile{
		Role:       profile.Role(r.Role),
		PRN:        r.PRN,
		FullName:   r.FullName,
		Email:      r.Email,
		Department: r.Department,
		Branch:     r.Branch,
		Year:       r.Year,
		Division:   r.Division,
		Phone:      r.Phone,
		Complete:   r.Complete,
		IdentityID: r.IdentityID,
	}
}

// FindByPRN queries by role and canonical PRN. A miss is (nil, nil).
func (c *Client) FindByPRN(ctx context.Context, role profile.Role, prn string) (*profile.Profile, error) {
	if err := profile.ValidatePRN(prn); err != nil {
		return nil, store.NewValidationError("prn", err)
	}

	q := url.Values{}
	q.Set("role", "eq."+string(role))
	q.Set("prn", "eq."+profile.CanonicalPRN(prn))
	q.Set("limit", "1")
	endpoint := c.baseURL + "/" + c.table + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, "")

	body, err := c.roundTrip(req, "profile find")
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toProfile(), nil
}

// Upsert inserts or merges the profile on (role, prn) and returns the
// stored representation.
func (c *Client) Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	if err := p.Validate(); err != nil {
		return nil, store.NewValidationError("profile", err)
	}

	payload, err := json.Marshal(fromProfile(p))
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	endpoint := c.baseURL + "/" + c.table + "?on_conflict=" + url.QueryEscape("role,prn")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, "resolution=merge-duplicates,return=representation")

	body, err := c.roundTrip(req, "profile upsert")
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse upserted profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert returned no representation")
	}
	return rows[0].toProfile(), nil
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	key := c.serviceKey.Reveal()
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("apikey", key)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

func (c *Client) roundTrip(req *http.Request, op string) ([]byte, error) {
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

	apiErr := fmt.Errorf("rest service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return nil, store.NewTransportError(op, apiErr)
	}
	return nil, &store.TransportError{Op: op, Err: apiErr, Retryable: false}
}

var _ store.ProfileStore = (*Client)(nil)
