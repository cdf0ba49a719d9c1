package policy

// Defaults returns the built-in policy set used when no policy document is
// configured or the configured one cannot be loaded.
func Defaults() *Store {
	allActions := []string{ActionView, ActionEdit, ActionDelete, ActionCreate, ActionManage}

	return &Store{
		rbac: map[string]map[string][]string{
			"admin": {
				ResourceParcel:        allActions,
				ResourceEstablishment: allActions,
				ResourceCrop:          allActions,
				ResourceScan:          allActions,
				ResourceUser:          allActions,
				ResourceBetaRequest:   {ActionView, ActionEdit, ActionDelete, ActionManage},
			},
			"operator": {
				ResourceParcel:        {ActionView, ActionEdit, ActionCreate},
				ResourceEstablishment: {ActionView},
				ResourceCrop:          {ActionEdit, ActionCreate},
				ResourceScan:          {ActionView, ActionCreate},
				ResourceBetaRequest:   {ActionView},
			},
			"viewer": {
				ResourceParcel:        {ActionView},
				ResourceEstablishment: {ActionView},
				ResourceCrop:          {ActionView},
				ResourceScan:          {ActionView, ActionExport},
			},
			"invitee": {
				ResourceParcel:        {},
				ResourceEstablishment: {},
				ResourceCrop:          {},
				ResourceScan:          {},
			},
		},
		rules: BuiltinRules(),
		relation: map[string][]string{
			"owner":      {ActionView, ActionEdit, ActionDelete, ActionManage},
			"consultant": {ActionView, ActionEdit},
			"viewer":     {ActionView},
		},
	}
}

// BuiltinRules returns the three ABAC rules every deployment carries.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:   "require_mfa_for_delete",
			Effect: EffectDeny,
			Reason: "MFA required for delete operations",
			Condition: Condition{
				All: []Condition{
					{Attr: "action", Operator: OpEquals, Value: ActionDelete},
					{Not: &Condition{Attr: "subject.mfaEnabled", Operator: OpEquals, Value: true}},
				},
			},
		},
		{
			Name:   "restrict_region_access",
			Effect: EffectDeny,
			Reason: "User region does not match resource region",
			Condition: Condition{
				All: []Condition{
					{Attr: "resource.region", Operator: OpExists},
					{Attr: "subject.region", Operator: OpExists},
					{Attr: "resource.region", Operator: OpNotEquals, ValueFrom: "subject.region"},
				},
			},
		},
		{
			Name:   "high_risk_user",
			Effect: EffectDeny,
			Reason: "User risk score too high",
			Condition: Condition{
				Attr: "subject.riskScore", Operator: OpGreaterThan, Value: 70,
			},
		},
	}
}
