package policy

import "testing"

func TestConditionEvalLeafOperators(t *testing.T) {
	subject := Subject{
		ID:   "user:1",
		Role: "operator",
		Attrs: map[string]any{
			"mfaEnabled": true,
			"region":     "PACA",
			"riskScore":  42,
		},
	}
	resource := Resource{
		ID:    "parcel:9",
		Type:  ResourceParcel,
		Attrs: map[string]any{"region": "PACA"},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals action", Condition{Attr: "action", Operator: OpEquals, Value: ActionEdit}, true},
		{"equals role", Condition{Attr: "subject.role", Operator: OpEquals, Value: "operator"}, true},
		{"equals bool attr", Condition{Attr: "subject.mfaEnabled", Operator: OpEquals, Value: true}, true},
		{"notEquals resource type", Condition{Attr: "resource.type", Operator: OpNotEquals, Value: ResourceScan}, true},
		{"greaterThan true", Condition{Attr: "subject.riskScore", Operator: OpGreaterThan, Value: 40}, true},
		{"greaterThan false", Condition{Attr: "subject.riskScore", Operator: OpGreaterThan, Value: 70}, false},
		{"greaterThan float literal", Condition{Attr: "subject.riskScore", Operator: OpGreaterThan, Value: 41.5}, true},
		{"in matches", Condition{Attr: "subject.role", Operator: OpIn, Value: []any{"admin", "operator"}}, true},
		{"in misses", Condition{Attr: "subject.role", Operator: OpIn, Value: []any{"admin"}}, false},
		{"exists present", Condition{Attr: "subject.region", Operator: OpExists}, true},
		{"exists absent", Condition{Attr: "subject.department", Operator: OpExists}, false},
		{"exists false wanted", Condition{Attr: "subject.department", Operator: OpExists, Value: false}, true},
		{"valueFrom equal regions", Condition{Attr: "resource.region", Operator: OpEquals, ValueFrom: "subject.region"}, true},
		{"valueFrom notEquals", Condition{Attr: "resource.region", Operator: OpNotEquals, ValueFrom: "subject.region"}, false},
		{"missing attr never matches", Condition{Attr: "subject.department", Operator: OpEquals, Value: "x"}, false},
		{"missing valueFrom never matches", Condition{Attr: "resource.region", Operator: OpEquals, ValueFrom: "subject.department"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(subject, ActionEdit, resource)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionEvalListAndMapValues(t *testing.T) {
	subject := Subject{
		ID:   "user:1",
		Role: "operator",
		Attrs: map[string]any{
			"region": []any{"PACA"},
			"scopes": map[string]any{"crop": "read"},
		},
	}
	resource := Resource{
		ID:    "parcel:9",
		Type:  ResourceParcel,
		Attrs: map[string]any{"region": []any{"PACA"}},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equal lists", Condition{Attr: "subject.region", Operator: OpEquals, Value: []any{"PACA"}}, true},
		{"different lists", Condition{Attr: "subject.region", Operator: OpEquals, Value: []any{"IDF"}}, false},
		{"list vs scalar", Condition{Attr: "subject.region", Operator: OpEquals, Value: "PACA"}, false},
		{"equal maps", Condition{Attr: "subject.scopes", Operator: OpEquals, Value: map[string]any{"crop": "read"}}, true},
		{"valueFrom equal lists", Condition{Attr: "resource.region", Operator: OpEquals, ValueFrom: "subject.region"}, true},
		{"valueFrom notEquals equal lists", Condition{Attr: "resource.region", Operator: OpNotEquals, ValueFrom: "subject.region"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(subject, ActionView, resource)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionEvalLogicNodes(t *testing.T) {
	subject := Subject{ID: "user:1", Role: "viewer", Attrs: map[string]any{"mfaEnabled": false}}
	resource := Resource{ID: "parcel:1", Type: ResourceParcel}

	all := Condition{All: []Condition{
		{Attr: "action", Operator: OpEquals, Value: ActionDelete},
		{Not: &Condition{Attr: "subject.mfaEnabled", Operator: OpEquals, Value: true}},
	}}
	if ok, _ := all.Eval(subject, ActionDelete, resource); !ok {
		t.Fatal("all: expected match for delete without mfa")
	}
	if ok, _ := all.Eval(subject, ActionView, resource); ok {
		t.Fatal("all: should not match a view action")
	}

	anyCond := Condition{Any: []Condition{
		{Attr: "subject.role", Operator: OpEquals, Value: "admin"},
		{Attr: "subject.role", Operator: OpEquals, Value: "viewer"},
	}}
	if ok, _ := anyCond.Eval(subject, ActionView, resource); !ok {
		t.Fatal("any: expected one branch to match")
	}

	not := Condition{Not: &Condition{Attr: "subject.role", Operator: OpEquals, Value: "admin"}}
	if ok, _ := not.Eval(subject, ActionView, resource); !ok {
		t.Fatal("not: expected negation to match")
	}
}

func TestConditionEvalNumericCoercion(t *testing.T) {
	// JSON decoding yields float64 while YAML yields int; both must compare.
	subject := Subject{ID: "user:1", Role: "admin", Attrs: map[string]any{"riskScore": float64(85)}}
	cond := Condition{Attr: "subject.riskScore", Operator: OpGreaterThan, Value: 70}
	ok, err := cond.Eval(subject, ActionView, Resource{ID: "parcel:1", Type: ResourceParcel})
	if err != nil || !ok {
		t.Fatalf("expected float64 85 > int 70, got ok=%v err=%v", ok, err)
	}

	eq := Condition{Attr: "subject.riskScore", Operator: OpEquals, Value: 85}
	if ok, _ := eq.Eval(subject, ActionView, Resource{}); !ok {
		t.Fatal("expected float64 85 to equal int 85")
	}
}

func TestConditionEvalErrors(t *testing.T) {
	subject := Subject{ID: "user:1", Role: "admin", Attrs: map[string]any{"region": "A"}}
	resource := Resource{ID: "parcel:1", Type: ResourceParcel}

	nonNumeric := Condition{Attr: "subject.region", Operator: OpGreaterThan, Value: 5}
	if _, err := nonNumeric.Eval(subject, ActionView, resource); err == nil {
		t.Fatal("expected error for greaterThan on a string attribute")
	}

	badIn := Condition{Attr: "subject.region", Operator: OpIn, Value: "A"}
	if _, err := badIn.Eval(subject, ActionView, resource); err == nil {
		t.Fatal("expected error for in with a non-list value")
	}

	empty := Condition{}
	if _, err := empty.Eval(subject, ActionView, resource); err == nil {
		t.Fatal("expected error for empty condition node")
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid leaf", Condition{Attr: "action", Operator: OpEquals, Value: "view"}, false},
		{"valid exists without value", Condition{Attr: "subject.region", Operator: OpExists}, false},
		{"valid valueFrom", Condition{Attr: "resource.region", Operator: OpNotEquals, ValueFrom: "subject.region"}, false},
		{"empty", Condition{}, true},
		{"bad operator", Condition{Attr: "action", Operator: "matches", Value: "x"}, true},
		{"leaf without value", Condition{Attr: "action", Operator: OpEquals}, true},
		{"mixed node kinds", Condition{
			Attr: "action", Operator: OpEquals, Value: "view",
			Not: &Condition{Attr: "action", Operator: OpEquals, Value: "edit"},
		}, true},
		{"nested invalid child", Condition{All: []Condition{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
