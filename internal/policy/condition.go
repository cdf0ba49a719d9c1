package policy

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator defines how a leaf condition compares the resolved attribute
// against its value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpGreaterThan Operator = "greaterThan"
	OpIn          Operator = "in"
	OpExists      Operator = "exists"
)

func (op Operator) IsValid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpIn, OpExists:
		return true
	default:
		return false
	}
}

// Condition is a typed predicate over a (subject, action, resource) request.
// A node is either a logic node (exactly one of All/Any/Not set) or a leaf
// comparing one attribute reference. Attribute references use dotted paths:
// "action", "subject.id", "subject.role", "subject.<attr>",
// "resource.type", "resource.id", "resource.<attr>".
type Condition struct {
	All []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Condition `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Condition  `yaml:"not,omitempty" json:"not,omitempty"`

	Attr     string   `yaml:"attr,omitempty" json:"attr,omitempty"`
	Operator Operator `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`

	// ValueFrom compares against another attribute reference instead of a
	// literal Value (e.g. resource.region vs subject.region).
	ValueFrom string `yaml:"valueFrom,omitempty" json:"value_from,omitempty"`
}

// Validate checks structural sanity of the condition tree.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}

	kinds := 0
	if len(c.All) > 0 {
		kinds++
		for i := range c.All {
			if err := c.All[i].Validate(); err != nil {
				return err
			}
		}
	}
	if len(c.Any) > 0 {
		kinds++
		for i := range c.Any {
			if err := c.Any[i].Validate(); err != nil {
				return err
			}
		}
	}
	if c.Not != nil {
		kinds++
		if err := c.Not.Validate(); err != nil {
			return err
		}
	}
	if c.Attr != "" {
		kinds++
		if !c.Operator.IsValid() {
			return fmt.Errorf("invalid operator %q for attr %q", c.Operator, c.Attr)
		}
		if c.Operator != OpExists && c.Value == nil && c.ValueFrom == "" {
			return fmt.Errorf("attr %q: operator %q requires value or valueFrom", c.Attr, c.Operator)
		}
	}

	switch kinds {
	case 0:
		return fmt.Errorf("condition is empty; need one of all, any, not, or a leaf attr")
	case 1:
		return nil
	default:
		return fmt.Errorf("condition mixes node kinds; only one of all, any, not, leaf allowed")
	}
}

// Eval evaluates the condition against the request. An unresolvable attribute
// makes the containing leaf not match (rather than erroring), except for
// OpExists which exists precisely to test presence.
func (c *Condition) Eval(subject Subject, action string, resource Resource) (bool, error) {
	switch {
	case len(c.All) > 0:
		for i := range c.All {
			ok, err := c.All[i].Eval(subject, action, resource)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case len(c.Any) > 0:
		for i := range c.Any {
			ok, err := c.Any[i].Eval(subject, action, resource)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case c.Not != nil:
		ok, err := c.Not.Eval(subject, action, resource)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case c.Attr != "":
		return c.evalLeaf(subject, action, resource)

	default:
		return false, fmt.Errorf("empty condition node")
	}
}

func (c *Condition) evalLeaf(subject Subject, action string, resource Resource) (bool, error) {
	got, present := resolveAttr(c.Attr, subject, action, resource)

	if c.Operator == OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want, nil
	}
	if !present {
		return false, nil
	}

	want := c.Value
	if c.ValueFrom != "" {
		other, ok := resolveAttr(c.ValueFrom, subject, action, resource)
		if !ok {
			return false, nil
		}
		want = other
	}

	switch c.Operator {
	case OpEquals:
		return looseEqual(got, want), nil
	case OpNotEquals:
		return !looseEqual(got, want), nil
	case OpGreaterThan:
		a, aok := toFloat(got)
		b, bok := toFloat(want)
		if !aok || !bok {
			return false, fmt.Errorf("attr %q: greaterThan needs numeric operands", c.Attr)
		}
		return a > b, nil
	case OpIn:
		list, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("attr %q: in needs a list value", c.Attr)
		}
		for _, item := range list {
			if looseEqual(got, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("attr %q: unsupported operator %q", c.Attr, c.Operator)
	}
}

// resolveAttr resolves a dotted attribute reference to its value.
func resolveAttr(ref string, subject Subject, action string, resource Resource) (any, bool) {
	if ref == "action" {
		return action, true
	}

	scope, key, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, false
	}

	switch scope {
	case "subject":
		switch key {
		case "id":
			return subject.ID, true
		case "role":
			return subject.Role, true
		}
		v, ok := subject.Attrs[key]
		return v, ok
	case "resource":
		switch key {
		case "id":
			return resource.ID, true
		case "type":
			return resource.Type, true
		}
		v, ok := resource.Attrs[key]
		return v, ok
	}
	return nil, false
}

// looseEqual compares values with numeric coercion, so a YAML 70 matches a
// JSON-decoded 70.0 for the same attribute. Attribute maps are open JSON, so
// operands can hold slices or maps; == would panic on those.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	if !isComparable(a) || !isComparable(b) {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
