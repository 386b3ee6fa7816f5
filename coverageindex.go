package foundrydata

import (
	"regexp"
	"sort"
)

// CoverageIndex answers which property names an object node admits when
// additionalProperties:false (or a propertyNames constraint) is in force.
// Membership (Has) is always available; Enumerate is only offered once
// finiteness is proven.
type CoverageIndex struct {
	CanonPath string

	declared map[string]bool
	// patterns are the compiled patternProperties sources; a name matching
	// any of them is admissible.
	patterns []*regexp.Regexp
	// propertyNames membership; nil means unconstrained.
	nameFilter *regexp.Regexp

	finite bool
	names  []string
}

// newCoverageIndex assembles an index from its parts. enumerated carries the
// proven-finite name universe (already filtered); it is ignored when finite is
// false.
func newCoverageIndex(canonPath string, declared []string, patterns []*regexp.Regexp, nameFilter *regexp.Regexp, enumerated []string, finite bool) *CoverageIndex {
	idx := &CoverageIndex{
		CanonPath:  canonPath,
		declared:   make(map[string]bool, len(declared)),
		patterns:   patterns,
		nameFilter: nameFilter,
		finite:     finite,
	}
	for _, name := range declared {
		idx.declared[name] = true
	}
	if finite {
		seen := make(map[string]bool, len(enumerated))
		for _, name := range enumerated {
			if !seen[name] && idx.Has(name) {
				seen[name] = true
				idx.names = append(idx.names, name)
			}
		}
		sort.Strings(idx.names)
	}
	return idx
}

// Has reports whether the node admits the property name.
func (idx *CoverageIndex) Has(name string) bool {
	if idx.nameFilter != nil && !idx.nameFilter.MatchString(name) {
		return false
	}
	if idx.declared[name] {
		return true
	}
	for _, re := range idx.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Enumerate returns the full admissible name set in sorted order. The bool
// result is false when finiteness was not proven; callers must then fall back
// to Has.
func (idx *CoverageIndex) Enumerate() ([]string, bool) {
	if !idx.finite {
		return nil, false
	}
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out, true
}

// Finite reports whether the admissible set is proven finite.
func (idx *CoverageIndex) Finite() bool {
	return idx.finite
}

// Empty reports a proven-empty admissible set: finiteness with zero names.
func (idx *CoverageIndex) Empty() bool {
	return idx.finite && len(idx.names) == 0
}

// Declared returns the declared property names in sorted order.
func (idx *CoverageIndex) Declared() []string {
	out := make([]string, 0, len(idx.declared))
	for name := range idx.declared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
