package crawler

import "strings"

// Classification is the authorship verdict for one record.
type Classification struct {
	Owned              bool
	NewAliasCandidates []string
}

// Classify reports whether any known alias of the profile appears inside any
// author string of the record. Every author not already a known alias is
// surfaced as a candidate, whatever the ownership outcome.
func Classify(record Record, profile Profile) Classification {
	known := make(map[string]struct{}, len(profile.KnownAliases))
	for _, alias := range profile.KnownAliases {
		known[alias] = struct{}{}
	}

	var out Classification
	for _, author := range record.Authors {
		if !out.Owned && matchesAnyAlias(author, profile.KnownAliases) {
			out.Owned = true
		}
		if _, ok := known[author]; !ok {
			out.NewAliasCandidates = append(out.NewAliasCandidates, author)
		}
	}
	return out
}

func matchesAnyAlias(author string, aliases []string) bool {
	for _, alias := range aliases {
		if alias != "" && strings.Contains(author, alias) {
			return true
		}
	}
	return false
}

// AliasSet accumulates candidate aliases across a run, preserving first-seen
// order and skipping anything the profile already lists.
type AliasSet struct {
	seen  map[string]struct{}
	order []string
}

// NewAliasSet returns a set that ignores the profile's known and already
// recorded candidate aliases.
func NewAliasSet(profile Profile) *AliasSet {
	s := &AliasSet{seen: make(map[string]struct{})}
	for _, a := range profile.KnownAliases {
		s.seen[a] = struct{}{}
	}
	for _, a := range profile.CandidateAliases {
		s.seen[a] = struct{}{}
	}
	return s
}

// Add records candidates not seen before.
func (s *AliasSet) Add(candidates ...string) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := s.seen[c]; ok {
			continue
		}
		s.seen[c] = struct{}{}
		s.order = append(s.order, c)
	}
}

// Values returns the new candidates in discovery order.
func (s *AliasSet) Values() []string {
	return append([]string(nil), s.order...)
}
