package auth

import (
	"sort"
	"strings"
)

// Scope is a permission string carried by an API key.
type Scope string

const (
	ScopeCollectionsRead  Scope = "collections:read"
	ScopeCollectionsWrite Scope = "collections:write"
	ScopePoliciesRead     Scope = "policies:read"
	ScopePoliciesWrite    Scope = "policies:write"
	ScopeLogsRead         Scope = "logs:read"
	ScopeAll              Scope = "*"
)

var knownScopes = map[Scope]bool{
	ScopeCollectionsRead:  true,
	ScopeCollectionsWrite: true,
	ScopePoliciesRead:     true,
	ScopePoliciesWrite:    true,
	ScopeLogsRead:         true,
	ScopeAll:              true,
}

// ValidScope reports whether s names a known scope.
func ValidScope(s string) bool {
	return knownScopes[Scope(s)]
}

// DefaultScopes are granted when a key is created without any.
func DefaultScopes() []string {
	return []string{string(ScopeCollectionsRead), string(ScopeCollectionsWrite)}
}

// ScopeSet is the parsed permission list of a key.
type ScopeSet map[Scope]struct{}

// ParseScopes builds a set from stored strings. Unknown entries are
// returned separately so the caller can log them.
func ParseScopes(raw []string) (ScopeSet, []string) {
	set := make(ScopeSet, len(raw))
	var unknown []string
	for _, r := range raw {
		s := Scope(strings.TrimSpace(r))
		if !knownScopes[s] {
			unknown = append(unknown, r)
			continue
		}
		set[s] = struct{}{}
	}
	return set, unknown
}

// Has reports whether the set grants s, directly or through "*".
func (ss ScopeSet) Has(s Scope) bool {
	if _, ok := ss[ScopeAll]; ok {
		return true
	}
	_, ok := ss[s]
	return ok
}

// Strings returns the scopes in sorted order.
func (ss ScopeSet) Strings() []string {
	out := make([]string, 0, len(ss))
	for s := range ss {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}
