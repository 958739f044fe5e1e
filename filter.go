package slope

import (
	"strings"

	"github.com/paulmach/osm"
)

// A FilterTerm matches a single tag. A term without HasValue matches any
// value of Key.
type FilterTerm struct {
	Key      string
	Value    string
	HasValue bool
}

// Match returns true if tags satisfy t.
func (t FilterTerm) Match(tags osm.Tags) bool {
	for _, tag := range tags {
		if tag.Key == t.Key {
			return !t.HasValue || tag.Value == t.Value
		}
	}
	return false
}

func (t FilterTerm) String() string {
	if t.HasValue {
		return t.Key + "=" + t.Value
	}
	return t.Key
}

// A Filter is a disjunction of FilterTerms. The zero Filter matches
// everything.
type Filter struct {
	Terms []FilterTerm
}

// ParseFilter parses expr, a comma-separated list of key=value or key terms.
// An empty expr returns a Filter that matches everything.
func ParseFilter(expr string) (*Filter, error) {
	f := &Filter{}
	if strings.TrimSpace(expr) == "" {
		return f, nil
	}
	for _, rawTerm := range strings.Split(expr, ",") {
		term, err := parseFilterTerm(rawTerm)
		if err != nil {
			return nil, &FilterParseError{
				Expr:   expr,
				Term:   rawTerm,
				Reason: err.Error(),
			}
		}
		f.Terms = append(f.Terms, term)
	}
	return f, nil
}

type filterTermError string

func (e filterTermError) Error() string {
	return string(e)
}

func parseFilterTerm(s string) (FilterTerm, error) {
	if strings.TrimSpace(s) == "" {
		return FilterTerm{}, filterTermError("empty term")
	}
	key, value, hasValue := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return FilterTerm{}, filterTermError("empty key")
	}
	if !hasValue {
		return FilterTerm{Key: key}, nil
	}
	if strings.Contains(value, "=") {
		return FilterTerm{}, filterTermError("more than one '='")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return FilterTerm{}, filterTermError("empty value")
	}
	return FilterTerm{Key: key, Value: value, HasValue: true}, nil
}

// Match returns true if tags satisfy at least one of f's terms, or if f has
// no terms.
func (f *Filter) Match(tags osm.Tags) bool {
	if f == nil || len(f.Terms) == 0 {
		return true
	}
	for _, term := range f.Terms {
		if term.Match(tags) {
			return true
		}
	}
	return false
}

// String returns f's canonical expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	terms := make([]string, len(f.Terms))
	for i, term := range f.Terms {
		terms[i] = term.String()
	}
	return strings.Join(terms, ",")
}
