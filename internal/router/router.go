package router

import (
	"strings"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

// Decision is the outcome of routing one command.
type Decision struct {
	Service string
	Payload string
	Rule    *model.Rule // nil when the default service was selected
}

// Table is an ordered, read-only list of prefix rules plus a default service.
// It is safe for concurrent use.
type Table struct {
	rules []model.Rule
	def   string
}

// New copies rules so later changes to the caller's slice cannot leak into the table.
func New(rules []model.Rule, defaultService string) *Table {
	rs := make([]model.Rule, len(rules))
	copy(rs, rules)
	return &Table{rules: rs, def: defaultService}
}

// Default names the service selected when no rule matches.
func (t *Table) Default() string { return t.def }

// Rules returns a copy of the rules in declaration order.
func (t *Table) Rules() []model.Rule {
	out := make([]model.Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Route scans rules in declaration order; the first whose prefix is a literal
// prefix of cmd wins. No match selects the default service with cmd unchanged.
func (t *Table) Route(cmd string) Decision {
	for i := range t.rules {
		r := &t.rules[i]
		if r.Prefix == "" || !strings.HasPrefix(cmd, r.Prefix) {
			continue
		}
		payload := cmd
		if r.StripPrefix {
			payload = stripPrefix(cmd, r.Prefix)
		}
		rule := *r
		return Decision{Service: r.Service, Payload: payload, Rule: &rule}
	}
	return Decision{Service: t.def, Payload: cmd}
}

// stripPrefix removes prefix and, unless the prefix already ends in one,
// exactly one separating space.
func stripPrefix(cmd, prefix string) string {
	rest := cmd[len(prefix):]
	if !strings.HasSuffix(prefix, " ") {
		rest = strings.TrimPrefix(rest, " ")
	}
	return rest
}
