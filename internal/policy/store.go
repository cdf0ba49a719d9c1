package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Effect is what a matching ABAC rule does to the request.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is a named ABAC rule: a typed condition plus an effect and a
// human-readable reason surfaced in decisions.
type Rule struct {
	Name      string    `yaml:"name" json:"name"`
	Effect    Effect    `yaml:"effect" json:"effect"`
	Reason    string    `yaml:"reason" json:"reason"`
	Condition Condition `yaml:"condition" json:"condition"`
}

// Store holds the loaded policy sets. It is immutable after construction and
// safe for concurrent readers; build it once at bootstrap and inject it into
// the decision engine.
type Store struct {
	rbac     map[string]map[string][]string // role -> resourceType -> actions
	rules    []Rule                         // ABAC, in registration order
	relation map[string][]string            // relation kind -> actions
}

// document is the on-disk policy configuration shape.
type document struct {
	RBAC map[string]map[string][]string `yaml:"rbac"`
	// ABAC is an ordered list because rule registration order is part of the
	// veto semantics (first matching deny wins).
	ABAC  []Rule                 `yaml:"abac"`
	ReBAC map[string]rebacFamily `yaml:"rebac"`
}

// rebacFamily is one entry of the rebac section. The relation may be named
// explicitly; otherwise it is derived from the conventional key suffixes
// _full_access, _read_write and _read_only.
type rebacFamily struct {
	Relation string   `yaml:"relation"`
	Actions  []string `yaml:"actions"`
}

// Capability tier suffixes, in precedence order. When several families name
// the same relation, the higher tier wins.
var tierSuffixes = []string{"_full_access", "_read_write", "_read_only"}

// Load reads the policy document at path. Any failure is logged and the
// built-in defaults are returned instead; the store never ends up invalid.
func Load(path string, logger *zap.Logger) *Store {
	if path == "" {
		logger.Info("no policy file configured, using built-in defaults")
		return Defaults()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("policy file unreadable, using built-in defaults",
			zap.String("path", path), zap.Error(err))
		return Defaults()
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		logger.Warn("policy file malformed, using built-in defaults",
			zap.String("path", path), zap.Error(err))
		return Defaults()
	}

	s, err := fromDocument(doc, logger)
	if err != nil {
		logger.Warn("policy document invalid, using built-in defaults",
			zap.String("path", path), zap.Error(err))
		return Defaults()
	}
	logger.Info("policy document loaded",
		zap.String("path", path),
		zap.Int("roles", len(s.rbac)),
		zap.Int("abac_rules", len(s.rules)),
		zap.Int("relations", len(s.relation)))
	return s
}

func fromDocument(doc document, logger *zap.Logger) (*Store, error) {
	if len(doc.RBAC) == 0 {
		return nil, fmt.Errorf("rbac section is empty")
	}

	rules := make([]Rule, 0, len(doc.ABAC))
	for _, r := range doc.ABAC {
		if r.Name == "" {
			return nil, fmt.Errorf("abac rule without a name")
		}
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return nil, fmt.Errorf("abac rule %q: invalid effect %q", r.Name, r.Effect)
		}
		if err := r.Condition.Validate(); err != nil {
			// A broken rule degrades policy strictness, not the request path.
			logger.Warn("skipping invalid abac rule",
				zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		rules = append(rules, r)
	}

	relation, err := resolveRelationTiers(doc.ReBAC)
	if err != nil {
		return nil, err
	}

	return &Store{rbac: doc.RBAC, rules: rules, relation: relation}, nil
}

// resolveRelationTiers flattens the rebac families into a relation -> actions
// lookup at load time, so no name concatenation happens on the check path.
func resolveRelationTiers(families map[string]rebacFamily) (map[string][]string, error) {
	type candidate struct {
		tier    int
		actions []string
	}
	best := make(map[string]candidate)

	// Deterministic iteration; precedence is decided by tier, not map order.
	keys := make([]string, 0, len(families))
	for k := range families {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fam := families[key]
		relation := fam.Relation
		tier := len(tierSuffixes)
		for i, suffix := range tierSuffixes {
			if strings.HasSuffix(key, suffix) {
				tier = i
				if relation == "" {
					relation = strings.TrimSuffix(key, suffix)
				}
				break
			}
		}
		if relation == "" {
			return nil, fmt.Errorf("rebac entry %q: relation not named and key has no tier suffix", key)
		}
		if cur, ok := best[relation]; !ok || tier < cur.tier {
			best[relation] = candidate{tier: tier, actions: fam.Actions}
		}
	}

	out := make(map[string][]string, len(best))
	for rel, c := range best {
		out[rel] = c.actions
	}
	return out, nil
}

// RoleActions returns the actions the RBAC table grants a role on a resource
// type. A missing role or resource type yields an empty list.
func (s *Store) RoleActions(role, resourceType string) []string {
	return s.rbac[role][resourceType]
}

// RelationActions returns the actions granted by holding the given relation
// kind on a resource.
func (s *Store) RelationActions(relationKind string) ([]string, bool) {
	actions, ok := s.relation[relationKind]
	return actions, ok
}

// Rules returns the ABAC rules in registration order.
func (s *Store) Rules() []Rule {
	return s.rules
}
