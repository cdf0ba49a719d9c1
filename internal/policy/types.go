package policy

// Well-known actions. The engine treats actions as open strings; these
// constants cover the actions the default policy set speaks about.
const (
	ActionView   = "view"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionCreate = "create"
	ActionManage = "manage"
	ActionExport = "export"
)

// Well-known resource types covered by the default RBAC table.
const (
	ResourceParcel        = "parcel"
	ResourceEstablishment = "establishment"
	ResourceCrop          = "crop"
	ResourceScan          = "scan"
	ResourceUser          = "user"
	ResourceBetaRequest   = "beta_request"
)

// Subject is the identity requesting access. Attrs is an open attribute bag
// (e.g. "mfaEnabled": true, "region": "PACA", "riskScore": 42).
// A Subject is immutable for the duration of a check.
type Subject struct {
	ID    string         `json:"id"` // "user:<identifier>"
	Role  string         `json:"role"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Resource is the object being accessed. Relations is a materialized view of
// the relationship graph for this one resource: relation kind to the subject
// ids holding that relation.
type Resource struct {
	ID        string              `json:"id"` // "<type>:<identifier>" or "<type>:*"
	Type      string              `json:"type"`
	Attrs     map[string]any      `json:"attrs,omitempty"`
	Relations map[string][]string `json:"relations,omitempty"`
}

// Decision outcome values.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)

// Policy mechanism identifiers reported in Decision.MatchedPolicies.
const (
	MechanismRBAC     = "rbac"
	MechanismReBAC    = "rebac"
	MechanismABACDeny = "abac_deny"
)

// Decision is the result of an authorization check. It is ephemeral; only the
// audit trail persists it.
type Decision struct {
	Outcome         string   `json:"outcome"`
	Reasons         []string `json:"reasons"`
	MatchedPolicies []string `json:"matched_policies"`
}

// Allowed reports whether the decision outcome is allow.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}
