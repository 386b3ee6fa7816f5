package foundrydata

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionalPolicy controls if/then/else lifting during normalization.
type ConditionalPolicy string

// Conditional lifting policies.
const (
	ConditionalNever      ConditionalPolicy = "never"
	ConditionalSafe       ConditionalPolicy = "safe"
	ConditionalAggressive ConditionalPolicy = "aggressive"
)

// CanonicalDialect is the dialect every canonical view is expressed in.
const CanonicalDialect = "https://json-schema.org/draft/2020-12/schema"

// NormalizeOptions tunes the normalizer.
type NormalizeOptions struct {
	// RewriteConditionals selects the if/then/else lifting policy.
	// Defaults to ConditionalSafe.
	RewriteConditionals ConditionalPolicy
}

// NormalizeResult is the canonical view of a schema plus its provenance.
type NormalizeResult struct {
	CanonSchema any
	PtrMap      *PtrMap
	Notes       []Envelope
}

// mapSchemaKeywords hold subschemas keyed by name.
var mapSchemaKeywords = []string{"properties", "patternProperties", "$defs", "dependentSchemas"}

// singleSchemaKeywords hold one subschema.
var singleSchemaKeywords = []string{
	"items", "additionalProperties", "propertyNames", "contains", "not",
	"if", "then", "else", "unevaluatedItems", "unevaluatedProperties",
	"contentSchema",
}

// listSchemaKeywords hold an array of subschemas.
var listSchemaKeywords = []string{"allOf", "anyOf", "oneOf", "prefixItems"}

type normalizer struct {
	opts  NormalizeOptions
	ptr   *PtrMap
	notes []Envelope
}

// Normalize produces the canonical 2020-12 view of a schema. Every node
// reachable in the canonical view has a PtrMap entry pointing at the original
// location it was derived from.
func Normalize(schema any, opts *NormalizeOptions) (*NormalizeResult, error) {
	o := NormalizeOptions{RewriteConditionals: ConditionalSafe}
	if opts != nil {
		o = *opts
		if o.RewriteConditionals == "" {
			o.RewriteConditionals = ConditionalSafe
		}
	}
	switch o.RewriteConditionals {
	case ConditionalNever, ConditionalSafe, ConditionalAggressive:
	default:
		return nil, fmt.Errorf("%w: rewriteConditionals %q", ErrSchemaType, o.RewriteConditionals)
	}

	n := &normalizer{opts: o, ptr: NewPtrMap()}
	canon, err := n.node(schema, RootPointer, RootPointer, false)
	if err != nil {
		return nil, err
	}
	if root := asMap(canon); root != nil {
		if dialect := getString(root, "$schema"); dialect != CanonicalDialect {
			root["$schema"] = CanonicalDialect
			n.note(CodeDialectNormalized, RootPointer, map[string]any{"from": dialect, "to": CanonicalDialect})
		}
	}
	return &NormalizeResult{CanonSchema: canon, PtrMap: n.ptr, Notes: n.notes}, nil
}

func (n *normalizer) note(code Code, canonPath string, details map[string]any) {
	e := Envelope{Code: code, CanonPath: canonPath, Phase: PhaseNormalize, Details: details}
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	n.notes = append(n.notes, e)
}

// node normalizes one schema value.
func (n *normalizer) node(schema any, canonPath, origPath string, nested bool) (any, error) {
	switch s := schema.(type) {
	case bool:
		n.ptr.Set(canonPath, origPath)
		return s, nil
	case map[string]any:
		return n.object(s, canonPath, origPath, nested)
	default:
		return nil, fmt.Errorf("%w at %s", ErrSchemaType, origPath)
	}
}

func (n *normalizer) object(schema map[string]any, canonPath, origPath string, nested bool) (any, error) {
	n.ptr.Set(canonPath, origPath)
	out := make(map[string]any, len(schema))

	nestedBelow := nested
	if id := getString(schema, "$id"); canonPath != RootPointer && isAbsoluteID(id) {
		nestedBelow = true
	}

	// Copy non-schema keywords first, normalizing legacy spellings.
	for _, key := range sortedKeys(schema) {
		if isSchemaKeyword(key) {
			continue
		}
		out[key] = deepCopyValue(schema[key])
	}

	// definitions folds into $defs at the nearest scope.
	n.liftDefinitions(schema, out, canonPath, origPath, nestedBelow)

	// Draft-7 tuple form of items becomes prefixItems.
	if tuple := asSlice(schema["items"]); tuple != nil {
		list := make([]any, 0, len(tuple))
		for i, member := range tuple {
			idx := strconv.Itoa(i)
			child, err := n.node(member, JoinPointer(canonPath, "prefixItems", idx), JoinPointer(origPath, "items", idx), nestedBelow)
			if err != nil {
				return nil, err
			}
			list = append(list, child)
		}
		out["prefixItems"] = list
		schema = shallowWithout(schema, "items")
		if extra, ok := schema["additionalItems"]; ok {
			if isSchemaValue(extra) {
				child, err := n.node(extra, JoinPointer(canonPath, "items"), JoinPointer(origPath, "additionalItems"), nestedBelow)
				if err != nil {
					return nil, err
				}
				out["items"] = child
			}
			schema = shallowWithout(schema, "additionalItems")
		}
		delete(out, "additionalItems")
	}

	// Subschema maps.
	for _, key := range mapSchemaKeywords {
		if key == "$defs" {
			continue // handled by liftDefinitions
		}
		members := asMap(schema[key])
		if members == nil {
			continue
		}
		canonMembers := make(map[string]any, len(members))
		for _, name := range sortedKeys(members) {
			child, err := n.node(members[name], JoinPointer(canonPath, key, name), JoinPointer(origPath, key, name), nestedBelow)
			if err != nil {
				return nil, err
			}
			canonMembers[name] = child
		}
		out[key] = canonMembers
	}

	// Single subschemas.
	for _, key := range singleSchemaKeywords {
		raw, ok := schema[key]
		if !ok {
			continue
		}
		if !isSchemaValue(raw) {
			out[key] = deepCopyValue(raw)
			continue
		}
		child, err := n.node(raw, JoinPointer(canonPath, key), JoinPointer(origPath, key), nestedBelow)
		if err != nil {
			return nil, err
		}
		out[key] = child
	}

	// Subschema lists.
	for _, key := range listSchemaKeywords {
		raw := asSlice(schema[key])
		if raw == nil {
			continue
		}
		list := make([]any, 0, len(raw))
		for i, member := range raw {
			idx := strconv.Itoa(i)
			child, err := n.node(member, JoinPointer(canonPath, key, idx), JoinPointer(origPath, key, idx), nestedBelow)
			if err != nil {
				return nil, err
			}
			list = append(list, child)
		}
		out[key] = list
	}

	n.rewriteLocalDefRefs(out, canonPath, nestedBelow)
	n.normalizeTypeArray(out, canonPath)
	n.normalizeExclusiveBounds(out, canonPath)
	n.compactAllOf(out, canonPath)
	n.collapseSingleOneOf(out, canonPath, origPath)
	n.rewritePropertyNamesEnum(out, canonPath, origPath)
	n.liftConditional(out, canonPath, origPath)

	return out, nil
}

// liftDefinitions merges a legacy definitions block into $defs.
func (n *normalizer) liftDefinitions(schema, out map[string]any, canonPath, origPath string, nested bool) {
	defs := asMap(schema["$defs"])
	legacy := asMap(schema["definitions"])
	if defs == nil && legacy == nil {
		return
	}
	canonDefs := make(map[string]any, len(defs)+len(legacy))
	for _, name := range sortedKeys(defs) {
		child, err := n.node(defs[name], JoinPointer(canonPath, "$defs", name), JoinPointer(origPath, "$defs", name), nested)
		if err == nil {
			canonDefs[name] = child
		}
	}
	lifted := false
	for _, name := range sortedKeys(legacy) {
		if _, taken := canonDefs[name]; taken {
			continue
		}
		child, err := n.node(legacy[name], JoinPointer(canonPath, "$defs", name), JoinPointer(origPath, "definitions", name), nested)
		if err == nil {
			canonDefs[name] = child
			lifted = true
		}
	}
	delete(out, "definitions")
	if len(canonDefs) > 0 {
		out["$defs"] = canonDefs
	}
	if lifted {
		n.note(CodeDefsLifted, canonPath, nil)
	}
}

// rewriteLocalDefRefs rewrites root-relative #/definitions/... refs to their
// lifted $defs home. A ref inside a nested absolute $id scope would cross a
// boundary and is left untouched.
func (n *normalizer) rewriteLocalDefRefs(out map[string]any, canonPath string, nested bool) {
	ref := getString(out, "$ref")
	if !strings.HasPrefix(ref, "#/definitions/") {
		return
	}
	if nested {
		n.note(CodeDefsTargetMissing, canonPath, map[string]any{"ref": ref})
		return
	}
	out["$ref"] = "#/$defs/" + strings.TrimPrefix(ref, "#/definitions/")
}

// normalizeTypeArray dedupes type arrays and unwraps singletons.
func (n *normalizer) normalizeTypeArray(out map[string]any, canonPath string) {
	raw := asSlice(out["type"])
	if raw == nil {
		return
	}
	seen := map[string]bool{}
	var types []string
	for _, t := range raw {
		s, ok := t.(string)
		if !ok {
			return
		}
		if !seen[s] {
			seen[s] = true
			types = append(types, s)
		}
	}
	if len(types) == len(raw) && len(types) != 1 {
		return
	}
	if len(types) == 1 {
		out["type"] = types[0]
	} else {
		list := make([]any, len(types))
		for i, t := range types {
			list[i] = t
		}
		out["type"] = list
	}
	n.note(CodeTypeArrayNormalized, canonPath, map[string]any{"types": types})
}

// normalizeExclusiveBounds converts draft-4 boolean exclusive bounds to the
// numeric 2020-12 form.
func (n *normalizer) normalizeExclusiveBounds(out map[string]any, canonPath string) {
	if excl, ok := out["exclusiveMinimum"].(bool); ok {
		if min, has := getNumber(out, "minimum"); excl && has {
			out["exclusiveMinimum"] = min
			delete(out, "minimum")
		} else {
			delete(out, "exclusiveMinimum")
		}
		n.note(CodeExclusiveBoundsMoved, canonPath, map[string]any{"keyword": "exclusiveMinimum"})
	}
	if excl, ok := out["exclusiveMaximum"].(bool); ok {
		if max, has := getNumber(out, "maximum"); excl && has {
			out["exclusiveMaximum"] = max
			delete(out, "maximum")
		} else {
			delete(out, "exclusiveMaximum")
		}
		n.note(CodeExclusiveBoundsMoved, canonPath, map[string]any{"keyword": "exclusiveMaximum"})
	}
}

// compactAllOf drops neutral members (true or empty schemas) and removes the
// keyword entirely when nothing remains.
func (n *normalizer) compactAllOf(out map[string]any, canonPath string) {
	members := asSlice(out["allOf"])
	if members == nil {
		return
	}
	kept := make([]any, 0, len(members))
	for _, m := range members {
		if isNeutralSchema(m) {
			continue
		}
		kept = append(kept, m)
	}
	removed := len(members) - len(kept)
	if removed == 0 {
		return
	}
	if len(kept) == 0 {
		delete(out, "allOf")
	} else {
		out["allOf"] = kept
	}
	n.note(CodeAllOfCompacted, canonPath, map[string]any{"removed": removed})
}

// collapseSingleOneOf merges a single-entry oneOf into the parent node. If the
// parent already carries any of the branch's keywords (other than $schema),
// the oneOf is kept as is; otherwise the branch's keywords move up and their
// ptrMap entries point back at the original branch location.
func (n *normalizer) collapseSingleOneOf(out map[string]any, canonPath, origPath string) {
	members := asSlice(out["oneOf"])
	if len(members) != 1 {
		return
	}
	branch := asMap(members[0])
	if branch == nil {
		return
	}
	for _, key := range sortedKeys(branch) {
		if _, taken := out[key]; taken && key != "$schema" {
			return // conflicting keyword; keep the oneOf
		}
	}
	delete(out, "oneOf")
	branchOrig := JoinPointer(origPath, "oneOf", "0")
	for _, key := range sortedKeys(branch) {
		out[key] = branch[key]
		n.remapSubtree(JoinPointer(canonPath, "oneOf", "0", key), JoinPointer(canonPath, key), JoinPointer(branchOrig, key))
	}
	n.note(CodeOneOfCollapsed, canonPath, nil)
}

// remapSubtree moves ptrMap entries rooted at oldCanon to newCanon, keeping
// the original side anchored at origBase.
func (n *normalizer) remapSubtree(oldCanon, newCanon, origBase string) {
	for _, p := range n.ptr.Pointers() {
		if !PointerHasPrefix(p, oldCanon) {
			continue
		}
		suffix := strings.TrimPrefix(p, oldCanon)
		n.ptr.Set(newCanon+suffix, origBase+suffix)
	}
	if _, ok := n.ptr.Original(newCanon); !ok {
		n.ptr.Set(newCanon, origBase)
	}
}

// rewritePropertyNamesEnum turns propertyNames.enum into an equivalent
// anchored patternProperties + additionalProperties:false pair.
func (n *normalizer) rewritePropertyNamesEnum(out map[string]any, canonPath, origPath string) {
	pnames := asMap(out["propertyNames"])
	if pnames == nil {
		return
	}
	names := getStrings(pnames, "enum")
	if names == nil {
		return
	}
	if len(pnames) != 1 {
		return // extra constraints ride along; leave the node alone
	}
	if _, taken := out["patternProperties"]; taken {
		return
	}
	if ap, ok := out["additionalProperties"]; ok {
		if b, isBool := ap.(bool); !isBool || b {
			return
		}
	}

	escaped := make([]string, len(names))
	for i, name := range names {
		escaped[i] = escapeRegexLiteral(name)
	}
	pattern := "^(?:" + strings.Join(escaped, "|") + ")$"

	delete(out, "propertyNames")
	out["patternProperties"] = map[string]any{pattern: map[string]any{}}
	out["additionalProperties"] = false

	origPN := JoinPointer(origPath, "propertyNames", "enum")
	n.ptr.Set(JoinPointer(canonPath, "patternProperties", pattern), origPN)
	n.ptr.Set(JoinPointer(canonPath, "additionalProperties"), origPN)
	n.note(CodePNamesEnumRewritten, canonPath, map[string]any{"names": names})
}

// liftConditional rewrites if/then/else into an anyOf of the two arms.
func (n *normalizer) liftConditional(out map[string]any, canonPath, origPath string) {
	if n.opts.RewriteConditionals == ConditionalNever {
		return
	}
	cond, hasIf := out["if"]
	if !hasIf || !isSchemaValue(cond) {
		return
	}
	thenSchema, hasThen := out["then"]
	elseSchema, hasElse := out["else"]
	if !hasThen && !hasElse {
		return
	}
	if _, taken := out["anyOf"]; taken {
		return
	}
	if n.opts.RewriteConditionals == ConditionalSafe && !isDiscriminantIf(cond) {
		return
	}

	thenArm := []any{cond}
	if hasThen {
		thenArm = append(thenArm, thenSchema)
	}
	elseArm := []any{map[string]any{"not": cond}}
	if hasElse {
		elseArm = append(elseArm, elseSchema)
	}

	delete(out, "if")
	delete(out, "then")
	delete(out, "else")
	out["anyOf"] = []any{
		map[string]any{"allOf": thenArm},
		map[string]any{"allOf": elseArm},
	}

	// The lifted arms are new canonical nodes; every one of them needs a
	// provenance entry so pointer-map completeness survives the rewrite.
	thenBase := JoinPointer(canonPath, "anyOf", "0")
	elseBase := JoinPointer(canonPath, "anyOf", "1")
	n.ptr.Set(thenBase, origPath)
	n.ptr.Set(elseBase, origPath)
	n.ptr.Set(JoinPointer(elseBase, "allOf", "0"), origPath)
	n.remapSubtree(JoinPointer(canonPath, "if"), JoinPointer(thenBase, "allOf", "0"), JoinPointer(origPath, "if"))
	n.remapSubtree(JoinPointer(canonPath, "if"), JoinPointer(elseBase, "allOf", "0", "not"), JoinPointer(origPath, "if"))
	if hasThen {
		n.remapSubtree(JoinPointer(canonPath, "then"), JoinPointer(thenBase, "allOf", "1"), JoinPointer(origPath, "then"))
	}
	if hasElse {
		n.remapSubtree(JoinPointer(canonPath, "else"), JoinPointer(elseBase, "allOf", "1"), JoinPointer(origPath, "else"))
	}

	details := map[string]any{"policy": string(n.opts.RewriteConditionals)}
	n.note(CodeConditionalLifted, canonPath, details)
}

// isDiscriminantIf accepts conditions shaped as a const/enum check on
// declared properties, the only form the safe policy lifts.
func isDiscriminantIf(cond any) bool {
	m := asMap(cond)
	if m == nil {
		return false
	}
	props := asMap(m["properties"])
	if props == nil {
		return false
	}
	for key := range m {
		if key != "properties" && key != "required" {
			return false
		}
	}
	for _, name := range sortedKeys(props) {
		p := asMap(props[name])
		if p == nil {
			return false
		}
		_, hasConst := p["const"]
		_, hasEnum := p["enum"]
		if !hasConst && !hasEnum {
			return false
		}
		if len(p) != 1 {
			return false
		}
	}
	return true
}

// isNeutralSchema reports a schema that accepts everything.
func isNeutralSchema(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	m := asMap(v)
	if m == nil {
		return false
	}
	for key := range m {
		switch key {
		case "$comment", "title", "description":
		default:
			return false
		}
	}
	return true
}

// isSchemaValue reports whether v can stand as a schema node.
func isSchemaValue(v any) bool {
	switch v.(type) {
	case bool, map[string]any:
		return true
	}
	return false
}

var schemaKeywordSet = func() map[string]bool {
	set := map[string]bool{"definitions": true, "$defs": true}
	for _, k := range mapSchemaKeywords {
		set[k] = true
	}
	for _, k := range singleSchemaKeywords {
		set[k] = true
	}
	for _, k := range listSchemaKeywords {
		set[k] = true
	}
	return set
}()

func isSchemaKeyword(key string) bool {
	return schemaKeywordSet[key]
}

// shallowWithout returns a copy of obj lacking the given key.
func shallowWithout(obj map[string]any, key string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// escapeRegexLiteral escapes regex metacharacters in a literal name.
func escapeRegexLiteral(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(`\.+*?()|[]{}^$`, c) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
