package foundrydata

import "sort"

// PtrMap tracks how canonical pointers relate to pointers in the user-supplied
// schema. One original pointer may map to several canonical pointers, e.g.
// when propertyNames.enum is rewritten into patternProperties.
type PtrMap struct {
	canonToOrig map[string]string
	origToCanon map[string][]string
}

// NewPtrMap returns an empty pointer map.
func NewPtrMap() *PtrMap {
	return &PtrMap{
		canonToOrig: make(map[string]string),
		origToCanon: make(map[string][]string),
	}
}

// Set records that the canonical pointer was derived from the original one.
// Re-recording the same pair is a no-op; remapping a canonical pointer to a
// different original replaces the forward entry and fixes the reverse index.
func (m *PtrMap) Set(canon, orig string) {
	if prev, ok := m.canonToOrig[canon]; ok {
		if prev == orig {
			return
		}
		m.removeReverse(prev, canon)
	}
	m.canonToOrig[canon] = orig
	m.origToCanon[orig] = append(m.origToCanon[orig], canon)
}

func (m *PtrMap) removeReverse(orig, canon string) {
	list := m.origToCanon[orig]
	for i, p := range list {
		if p == canon {
			m.origToCanon[orig] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.origToCanon[orig]) == 0 {
		delete(m.origToCanon, orig)
	}
}

// Original returns the original pointer a canonical pointer was derived from.
func (m *PtrMap) Original(canon string) (string, bool) {
	orig, ok := m.canonToOrig[canon]
	return orig, ok
}

// Canonical returns every canonical pointer derived from an original pointer,
// sorted for stable iteration.
func (m *PtrMap) Canonical(orig string) []string {
	list := m.origToCanon[orig]
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	sort.Strings(out)
	return out
}

// Pointers returns all canonical pointers in sorted order.
func (m *PtrMap) Pointers() []string {
	out := make([]string, 0, len(m.canonToOrig))
	for p := range m.canonToOrig {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of canonical entries.
func (m *PtrMap) Len() int {
	return len(m.canonToOrig)
}

// CheckInverse verifies that the reverse index is the exact inverse of the
// forward map when flattened. It returns the first offending canonical
// pointer, or "" when the invariant holds.
func (m *PtrMap) CheckInverse() string {
	for canon, orig := range m.canonToOrig {
		found := false
		for _, c := range m.origToCanon[orig] {
			if c == canon {
				found = true
				break
			}
		}
		if !found {
			return canon
		}
	}
	count := 0
	for _, list := range m.origToCanon {
		count += len(list)
	}
	if count != len(m.canonToOrig) {
		return RootPointer
	}
	return ""
}
