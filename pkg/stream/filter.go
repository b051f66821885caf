package stream

import (
	"fmt"
	"strings"

	"github.com/antelayer/streamgate/pkg/search"
)

// Compiled is a request's match predicates split into clauses pushable
// into the backend query and filters evaluated per record on retrieval
type Compiled struct {
	Clauses  []search.Clause
	OnDemand []FieldFilter
}

// constrained reports whether a request field actually constrains the
// stream; "*" and the empty string mean "no constraint"
func constrained(v string) bool {
	return v != "" && v != wildcardMarker
}

// CompileDelta builds the backend clauses for a delta subscription.
// The fixed fields are always exact-term pushable; delta subscriptions
// have no on-demand filter stage.
func CompileDelta(req *DeltaRequest) Compiled {
	var c Compiled

	fields := []struct {
		name  string
		value string
	}{
		{FieldCode, req.Code},
		{FieldTable, req.Table},
		{FieldScope, req.Scope},
		{FieldPayer, req.Payer},
	}
	for _, f := range fields {
		if constrained(f.value) {
			c.Clauses = append(c.Clauses, search.Term{Field: f.name, Value: f.value})
		}
	}

	return c
}

// CompileAction builds the backend clauses and on-demand filters for an
// action subscription. The account constraint is pushed as a disjunction
// over the notified parties and authorizing actors; each client filter is
// routed by whether it names a top-level indexed attribute.
func CompileAction(req *ActionRequest) Compiled {
	var c Compiled

	if constrained(req.Account) {
		c.Clauses = append(c.Clauses, search.FieldOr{
			Fields: []string{FieldNotified, FieldAuthActor},
			Value:  req.Account,
		})
	}
	if constrained(req.Contract) {
		c.Clauses = append(c.Clauses, search.Term{Field: FieldActAccount, Value: req.Contract})
	}
	if constrained(req.Action) {
		c.Clauses = append(c.Clauses, search.Term{Field: FieldActName, Value: req.Action})
	}

	for _, f := range req.Filters {
		if pushable(f) {
			c.Clauses = append(c.Clauses, search.Term{
				Field: strings.TrimPrefix(f.Field, indexedFieldPrefix),
				Value: f.Value,
			})
		} else {
			c.OnDemand = append(c.OnDemand, f)
		}
	}

	return c
}

// pushable reports whether a client filter can be expressed as a backend
// term. Nested action-data paths and wildcard values are evaluated
// on-demand after retrieval.
func pushable(f FieldFilter) bool {
	if !strings.HasPrefix(f.Field, indexedFieldPrefix) {
		return false
	}
	if strings.HasPrefix(f.Field, nestedDataPrefix) {
		return false
	}
	if strings.Contains(f.Value, wildcardMarker) {
		return false
	}
	return true
}

// MatchOnDemand reports whether a record satisfies every on-demand
// filter. A record with zero filters always passes.
func MatchOnDemand(rec search.Record, filters []FieldFilter) bool {
	for _, f := range filters {
		path := strings.Split(strings.TrimPrefix(f.Field, indexedFieldPrefix), ".")
		if !matchPath(rec, path, f.Value) {
			return false
		}
	}
	return true
}

// matchPath walks a dotted path through a record and compares the value
// at its end. List nodes match if any element matches the remaining path.
func matchPath(v interface{}, parts []string, want string) bool {
	if len(parts) == 0 {
		switch v.(type) {
		case map[string]interface{}, nil:
			return false
		default:
			return matchValue(fmt.Sprint(v), want)
		}
	}

	switch node := v.(type) {
	case map[string]interface{}:
		child, ok := node[parts[0]]
		if !ok {
			return false
		}
		return matchPath(child, parts[1:], want)
	case []interface{}:
		for _, elem := range node {
			if matchPath(elem, parts, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchValue compares a record value against a filter value
// Exact match unless the filter value carries a wildcard marker, in
// which case prefix/suffix/substring matching applies
func matchValue(got, want string) bool {
	if !strings.Contains(want, wildcardMarker) {
		return got == want
	}

	leading := strings.HasPrefix(want, wildcardMarker)
	trailing := strings.HasSuffix(want, wildcardMarker)
	trimmed := strings.Trim(want, wildcardMarker)

	switch {
	case leading && trailing:
		return strings.Contains(got, trimmed)
	case trailing:
		return strings.HasPrefix(got, trimmed)
	case leading:
		return strings.HasSuffix(got, trimmed)
	default:
		// inner wildcard: fixed prefix and suffix
		parts := strings.SplitN(want, wildcardMarker, 2)
		return strings.HasPrefix(got, parts[0]) && strings.HasSuffix(got, parts[1]) &&
			len(got) >= len(parts[0])+len(parts[1])
	}
}
