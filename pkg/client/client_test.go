package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var ctx = context.Background()

func newStubServer(t *testing.T, wantMethod, wantPath string, status int, response any) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != wantMethod || r.URL.Path != wantPath {
			t.Errorf("got %s %s, want %s %s", r.Method, r.URL.Path, wantMethod, wantPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != nil {
			json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, New(Config{BaseURL: srv.URL, Token: "test-token"})
}

func TestCheck(t *testing.T) {
	_, c := newStubServer(t, http.MethodPost, "/api/v1/authz/check", http.StatusOK, map[string]any{
		"outcome":          "allow",
		"reasons":          []string{"RBAC: role admin allows view on parcel"},
		"matched_policies": []string{"rbac"},
	})

	d, err := c.Check(ctx,
		Subject{ID: "user:1", Role: "admin"},
		"view",
		Resource{ID: "parcel:42", Type: "parcel"})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed() || len(d.MatchedPolicies) != 1 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestGrantRelationship(t *testing.T) {
	_, c := newStubServer(t, http.MethodPost, "/api/v1/authz/relationships", http.StatusCreated,
		map[string]string{"edge_id": "edge-1"})

	id, err := c.GrantRelationship(ctx, Grant{
		SubjectID: "user:1", ResourceType: "parcel", ResourceID: "42", RelationKind: "owner",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "edge-1" {
		t.Fatalf("got edge id %q", id)
	}
}

func TestVerifyToken(t *testing.T) {
	_, c := newStubServer(t, http.MethodPost, "/api/v1/authz/tokens/verify", http.StatusOK,
		map[string]bool{"valid": true})

	ok, err := c.VerifyToken(ctx, "secret", "parcel", "42", "view", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected valid token")
	}
}

func TestErrorResponsesSurfaceMessage(t *testing.T) {
	_, c := newStubServer(t, http.MethodPost, "/api/v1/authz/invitations/redeem", http.StatusConflict,
		map[string]string{"error": "invitation was already used"})

	_, err := c.RedeemInvitation(ctx, "some-token")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "already used") {
		t.Fatalf("error should carry the server message, got %q", got)
	}
}

func TestQueryAuditEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/audit/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("outcome") != "deny" || r.URL.Query().Get("subject_id") != "user:1" {
			t.Errorf("filters not encoded: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{{"id": "e1", "subject_id": "user:1", "action": "authz.check", "outcome": "deny"}},
			"total":  1,
		})
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL})

	events, total, err := c.QueryAuditEvents(ctx, AuditFilter{SubjectID: "user:1", Outcome: "deny"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(events) != 1 || events[0].Outcome != "deny" {
		t.Fatalf("unexpected result: total=%d events=%+v", total, events)
	}
}
