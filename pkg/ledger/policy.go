package ledger

// PolicyTable maps plan tiers to monthly minute allowances. The actor only
// knows "plan -> limit" through this table; limits are never hardcoded into
// actor logic.
type PolicyTable map[Plan]int

// DefaultPolicy returns the standard tier table.
func DefaultPolicy() PolicyTable {
	return PolicyTable{
		PlanFree:  10,
		PlanBasic: 100,
		PlanPro:   500,
	}
}

// MinutesFor returns the monthly allowance for a plan.
// The second return value is false for unknown plans.
func (t PolicyTable) MinutesFor(plan Plan) (int, bool) {
	limit, ok := t[plan]
	return limit, ok
}

// Valid reports whether the plan exists in the table.
func (t PolicyTable) Valid(plan Plan) bool {
	_, ok := t[plan]
	return ok
}
