// Package client is a Go client for the vineseal authorization API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client calls the authorization service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

// Config holds configuration for the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a new Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetToken sets the bearer token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.Token = token
}

// Subject identifies the caller a check is evaluated for.
type Subject struct {
	ID    string         `json:"id"`
	Role  string         `json:"role"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Resource is the object a check is evaluated against. Relations may be left
// nil; the service then resolves them from its relationship graph.
type Resource struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Attrs     map[string]any      `json:"attrs,omitempty"`
	Relations map[string][]string `json:"relations,omitempty"`
}

// Decision is the service's answer to a check.
type Decision struct {
	Outcome         string   `json:"outcome"`
	Reasons         []string `json:"reasons"`
	MatchedPolicies []string `json:"matched_policies"`
}

// Allowed reports whether the decision outcome is allow.
func (d Decision) Allowed() bool {
	return d.Outcome == "allow"
}

type checkRequest struct {
	Subject  Subject  `json:"subject"`
	Action   string   `json:"action"`
	Resource Resource `json:"resource"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

// Check asks whether subject may perform action on resource.
func (c *Client) Check(ctx context.Context, subject Subject, action string, resource Resource) (Decision, error) {
	var decision Decision
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/check",
		checkRequest{Subject: subject, Action: action, Resource: resource}, &decision)
	return decision, err
}

// Explanation is a decision with per-mechanism sub-results.
type Explanation struct {
	Decision Decision        `json:"decision"`
	RBAC     json.RawMessage `json:"rbac"`
	ReBAC    json.RawMessage `json:"rebac"`
	ABAC     json.RawMessage `json:"abac"`
}

// Explain returns the decision with per-mechanism sub-results. With dryRun
// set the service records no audit event.
func (c *Client) Explain(ctx context.Context, subject Subject, action string, resource Resource, dryRun bool) (Explanation, error) {
	var explanation Explanation
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/explain",
		checkRequest{Subject: subject, Action: action, Resource: resource, DryRun: dryRun}, &explanation)
	return explanation, err
}

// Grant describes a relationship grant.
type Grant struct {
	SubjectID    string         `json:"subject_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	RelationKind string         `json:"relation_kind"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GrantRelationship creates or refreshes a relationship edge and returns its id.
func (c *Client) GrantRelationship(ctx context.Context, grant Grant) (string, error) {
	var res struct {
		EdgeID string `json:"edge_id"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/relationships", grant, &res)
	return res.EdgeID, err
}

// RevokeRelationship removes relationship edges. An empty relationKind
// removes all kinds for the subject/resource pair.
func (c *Client) RevokeRelationship(ctx context.Context, subjectID, resourceType, resourceID, relationKind string) error {
	body := map[string]string{
		"subject_id":    subjectID,
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"relation_kind": relationKind,
	}
	return c.doRequest(ctx, http.MethodDelete, "/api/v1/authz/relationships", body, nil)
}

// ResourceRelationships returns the relation kind to subject ids view of one
// resource.
func (c *Client) ResourceRelationships(ctx context.Context, resourceType, resourceID string) (map[string][]string, error) {
	var res struct {
		Relations map[string][]string `json:"relations"`
	}
	path := fmt.Sprintf("/api/v1/authz/resources/%s/%s/relationships",
		url.PathEscape(resourceType), url.PathEscape(resourceID))
	err := c.doRequest(ctx, http.MethodGet, path, nil, &res)
	return res.Relations, err
}

// TokenGrant describes a capability token to issue.
type TokenGrant struct {
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Action       string         `json:"action"`
	TTLSeconds   int            `json:"ttl_seconds"`
	SubjectID    string         `json:"subject_id,omitempty"`
	MaxUses      *int           `json:"max_uses,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IssueToken creates a capability token and returns the bearer secret. The
// secret is not recoverable afterwards.
func (c *Client) IssueToken(ctx context.Context, grant TokenGrant) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/tokens", grant, &res)
	return res.Token, err
}

// VerifyToken reports whether the secret currently grants action on the
// resource, optionally as subjectID. A successful verification consumes one
// use.
func (c *Client) VerifyToken(ctx context.Context, secret, resourceType, resourceID, action, subjectID string) (bool, error) {
	body := map[string]string{
		"token":         secret,
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"action":        action,
		"subject_id":    subjectID,
	}
	var res struct {
		Valid bool `json:"valid"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/tokens/verify", body, &res)
	return res.Valid, err
}

// IssueInvitation creates a single-use invitation token bound to the
// recipient.
func (c *Client) IssueInvitation(ctx context.Context, recipientID, invitationID string, ttlSeconds int) (string, error) {
	body := map[string]any{
		"recipient_id":  recipientID,
		"invitation_id": invitationID,
		"ttl_seconds":   ttlSeconds,
	}
	var res struct {
		Token string `json:"token"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/invitations", body, &res)
	return res.Token, err
}

// RedeemInvitation consumes an invitation token as the authenticated caller
// and returns the invitation id.
func (c *Client) RedeemInvitation(ctx context.Context, token string) (string, error) {
	var res struct {
		InvitationID string `json:"invitation_id"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/authz/invitations/redeem",
		map[string]string{"token": token}, &res)
	return res.InvitationID, err
}

// AuditEvent is one audit trail record.
type AuditEvent struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	SubjectID    string          `json:"subject_id"`
	Action       string          `json:"action"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Outcome      string          `json:"outcome"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// AuditFilter filters an audit query. Zero values are not sent.
type AuditFilter struct {
	SubjectID    string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
}

// QueryAuditEvents returns matching audit events and the total match count.
func (c *Client) QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, int, error) {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("subject_id", filter.SubjectID)
	set("action", filter.Action)
	set("resource_type", filter.ResourceType)
	set("resource_id", filter.ResourceID)
	set("outcome", filter.Outcome)

	path := "/api/v1/audit/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Events []AuditEvent `json:"events"`
		Total  int          `json:"total"`
	}
	err := c.doRequest(ctx, http.MethodGet, path, nil, &res)
	return res.Events, res.Total, err
}

// doRequest performs an authenticated request and decodes the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
