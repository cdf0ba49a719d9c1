package engine

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/dhawalhost/vineseal/internal/audit"
	"github.com/dhawalhost/vineseal/internal/policy"
)

// Engine combines role, relationship and attribute policy into one decision
// per (subject, action, resource) request. It is pure over the injected
// policy store and safe for any number of concurrent callers.
type Engine struct {
	policies *policy.Store
	recorder audit.Recorder
	logger   *zap.Logger
}

// New creates an Engine. The policy store must be fully loaded; the recorder
// receives one event per real check.
func New(policies *policy.Store, recorder audit.Recorder, logger *zap.Logger) *Engine {
	return &Engine{policies: policies, recorder: recorder, logger: logger}
}

// mechanismResult is the outcome of a single policy mechanism.
type mechanismResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// abacResult is the outcome of the attribute rule pass. Denied is set by the
// first matching deny rule; later rules are not consulted.
type abacResult struct {
	Denied bool   `json:"denied"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Explanation is a decision plus the raw per-mechanism sub-results.
type Explanation struct {
	Decision policy.Decision `json:"decision"`
	RBAC     mechanismResult `json:"rbac"`
	ReBAC    mechanismResult `json:"rebac"`
	ABAC     abacResult      `json:"abac"`
}

// Check evaluates the request and returns an allow/deny decision with reasons
// and the mechanisms that matched. Denial is a value, never an error. The
// decision is audited fire-and-forget.
func (e *Engine) Check(ctx context.Context, subject policy.Subject, action string, resource policy.Resource) policy.Decision {
	decision := e.evaluate(subject, action, resource).Decision

	e.recorder.Record(ctx, audit.RecordInput{
		SubjectID:    subject.ID,
		Action:       "authz.check",
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		Outcome:      decision.Outcome,
		Details: map[string]any{
			"requested_action": action,
			"reasons":          decision.Reasons,
			"matched_policies": decision.MatchedPolicies,
		},
	})

	return decision
}

// Explain returns the decision together with the intermediate sub-results of
// each mechanism. With recordAudit false this is a dry run and leaves no
// trace in the audit trail.
func (e *Engine) Explain(ctx context.Context, subject policy.Subject, action string, resource policy.Resource, recordAudit bool) Explanation {
	if recordAudit {
		ex := e.evaluate(subject, action, resource)
		e.recorder.Record(ctx, audit.RecordInput{
			SubjectID:    subject.ID,
			Action:       "authz.explain",
			ResourceType: resource.Type,
			ResourceID:   resource.ID,
			Outcome:      ex.Decision.Outcome,
			Details: map[string]any{
				"requested_action": action,
				"reasons":          ex.Decision.Reasons,
			},
		})
		return ex
	}
	return e.evaluate(subject, action, resource)
}

// evaluate runs RBAC, then ReBAC, then ABAC, and combines them:
// allow iff (rbac ∨ rebac) ∧ ¬abac-deny. ABAC vetoes both other mechanisms.
func (e *Engine) evaluate(subject policy.Subject, action string, resource policy.Resource) Explanation {
	rbac := e.checkRBAC(subject, action, resource)
	rebac := e.checkReBAC(subject, action, resource)
	abac := e.checkABAC(subject, action, resource)

	ex := Explanation{RBAC: rbac, ReBAC: rebac, ABAC: abac}

	if abac.Denied {
		ex.Decision = policy.Decision{
			Outcome:         policy.OutcomeDeny,
			Reasons:         []string{fmt.Sprintf("ABAC: %s", abac.Reason)},
			MatchedPolicies: []string{policy.MechanismABACDeny},
		}
		return ex
	}

	var reasons []string
	var matched []string
	if rbac.Allowed {
		reasons = append(reasons, fmt.Sprintf("RBAC: %s", rbac.Reason))
		matched = append(matched, policy.MechanismRBAC)
	}
	if rebac.Allowed {
		reasons = append(reasons, fmt.Sprintf("ReBAC: %s", rebac.Reason))
		matched = append(matched, policy.MechanismReBAC)
	}

	if rbac.Allowed || rebac.Allowed {
		ex.Decision = policy.Decision{
			Outcome:         policy.OutcomeAllow,
			Reasons:         reasons,
			MatchedPolicies: matched,
		}
		return ex
	}

	ex.Decision = policy.Decision{
		Outcome:         policy.OutcomeDeny,
		Reasons:         []string{"no matching policy allows this action"},
		MatchedPolicies: []string{},
	}
	return ex
}

// checkRBAC consults the role table. The "manage" sentinel implies every
// action on the resource type.
func (e *Engine) checkRBAC(subject policy.Subject, action string, resource policy.Resource) mechanismResult {
	actions := e.policies.RoleActions(subject.Role, resource.Type)
	allowed := slices.Contains(actions, action) || slices.Contains(actions, policy.ActionManage)

	if allowed {
		return mechanismResult{
			Allowed: true,
			Reason:  fmt.Sprintf("role %s allows %s on %s", subject.Role, action, resource.Type),
		}
	}
	return mechanismResult{
		Allowed: false,
		Reason:  fmt.Sprintf("role %s disallows %s on %s", subject.Role, action, resource.Type),
	}
}

// checkReBAC scans the resource's materialized relations. The first relation
// kind that both contains the subject and grants the action wins; remaining
// kinds are only tried while none has granted.
func (e *Engine) checkReBAC(subject policy.Subject, action string, resource policy.Resource) mechanismResult {
	for relationKind, subjectIDs := range resource.Relations {
		if !slices.Contains(subjectIDs, subject.ID) {
			continue
		}
		actions, ok := e.policies.RelationActions(relationKind)
		if !ok {
			continue
		}
		if slices.Contains(actions, action) {
			return mechanismResult{
				Allowed: true,
				Reason:  fmt.Sprintf("subject is %s of the resource", relationKind),
			}
		}
	}
	return mechanismResult{Allowed: false, Reason: "no relationship grants this action"}
}

// checkABAC evaluates the attribute rules in registration order. The first
// matching deny rule vetoes the request. A rule that fails to evaluate is
// logged and treated as non-matching so a misconfigured rule degrades policy
// strictness instead of breaking the request path.
func (e *Engine) checkABAC(subject policy.Subject, action string, resource policy.Resource) abacResult {
	for _, rule := range e.policies.Rules() {
		matched, err := evalRule(rule, subject, action, resource)
		if err != nil {
			e.logger.Warn("abac rule evaluation failed, treating as non-matching",
				zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		if matched && rule.Effect == policy.EffectDeny {
			return abacResult{Denied: true, Rule: rule.Name, Reason: rule.Reason}
		}
	}
	return abacResult{}
}

// evalRule converts a panicking condition evaluation into an error so one bad
// rule or attribute value cannot take down the request path.
func evalRule(rule policy.Rule, subject policy.Subject, action string, resource policy.Resource) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("rule %q panicked: %v", rule.Name, r)
		}
	}()
	return rule.Condition.Eval(subject, action, resource)
}
