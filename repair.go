package foundrydata

// Repair action names.
const (
	ActionRenameProperty  = "renameProperty"
	ActionCoerceToEnum    = "coerceToEnum"
	ActionFillRequired    = "fillRequired"
	ActionDropExtraneous  = "dropExtraneous"
)

// RepairAction records one bounded edit applied to a failing candidate.
type RepairAction struct {
	Action       string         `json:"action"`
	CanonPath    string         `json:"canonPath"`
	OrigPath     string         `json:"origPath,omitempty"`
	InstancePath string         `json:"instancePath"`
	Details      map[string]any `json:"details,omitempty"`
}

// RepairOptions bound the repair loop.
type RepairOptions struct {
	// Attempts is clamped to [1, 3].
	Attempts int
}

// RepairOutcome is the result of repairing one candidate.
type RepairOutcome struct {
	Item        any
	Actions     []RepairAction
	Repaired    bool
	Diagnostics []Envelope
}

// MaxRepairAttempts is the hard ceiling on bounded edits per candidate.
const MaxRepairAttempts = 3

type repairer struct {
	eff      *EffectiveSchema
	validate func(item any) bool
	actions  []RepairAction
	diags    []Envelope
}

// RepairItem attempts up to opts.Attempts bounded edits on a candidate that
// failed oracle validation. The safe edit set never changes semantics: rename
// to an admissible name, coerce onto a lifted pattern enum, fill a missing
// required key with a type default, drop provably extraneous keys. When no
// safe edit applies the repairer surrenders and returns the candidate as-is.
func RepairItem(item any, eff *EffectiveSchema, opts RepairOptions, validate func(any) bool) *RepairOutcome {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > MaxRepairAttempts {
		attempts = MaxRepairAttempts
	}

	r := &repairer{eff: eff, validate: validate}
	current := deepCopyValue(item)
	for attempt := 0; attempt < attempts; attempt++ {
		if validate != nil && validate(current) {
			return &RepairOutcome{Item: current, Actions: r.actions, Repaired: attempt > 0, Diagnostics: r.diags}
		}
		edited := r.editOnce(current, asMap(eff.Canonical), RootPointer, "")
		if !edited {
			break
		}
	}
	repaired := validate != nil && validate(current)
	return &RepairOutcome{Item: current, Actions: r.actions, Repaired: repaired, Diagnostics: r.diags}
}

func (r *repairer) diag(e Envelope) {
	if err := ValidateEnvelope(e); err != nil {
		panic(err)
	}
	r.diags = append(r.diags, e)
}

func (r *repairer) origPath(canonPath string) string {
	orig, _ := r.eff.PtrMap.Original(canonPath)
	return orig
}

// editOnce applies the first applicable safe edit, returning whether anything
// changed.
func (r *repairer) editOnce(instance any, node map[string]any, canonPath, instancePath string) bool {
	obj := asMap(instance)
	if obj == nil || node == nil {
		return false
	}

	props := asMap(node["properties"])
	idx := r.eff.Coverage[canonPath]

	// 1. Fill missing required keys with a type default.
	for _, name := range getStrings(node, "required") {
		if _, present := obj[name]; present {
			continue
		}
		if idx != nil && !idx.Has(name) {
			continue
		}
		obj[name] = typeDefault(asMap(props[name]))
		r.actions = append(r.actions, RepairAction{
			Action:       ActionFillRequired,
			CanonPath:    canonPath,
			OrigPath:     r.origPath(canonPath),
			InstancePath: instancePath + "/" + EscapeSegment(name),
			Details:      map[string]any{"property": name},
		})
		return true
	}

	// 2. Rename or drop inadmissible keys.
	if idx != nil {
		for _, name := range sortedKeys(obj) {
			if idx.Has(name) {
				continue
			}
			if target, ok := r.renameTarget(idx, obj, name); ok {
				// Eval guard: the new name must evaluate against some
				// subschema, otherwise the rename just moves the problem.
				if !r.evaluatesAt(node, target) {
					r.diag(Envelope{
						Code:      CodeRepairEvalGuardFail,
						CanonPath: canonPath,
						Phase:     PhaseRepair,
						Details:   map[string]any{"from": name, "to": target, "reason": "notEvaluated"},
					})
				} else {
					obj[target] = obj[name]
					delete(obj, name)
					r.actions = append(r.actions, RepairAction{
						Action:       ActionRenameProperty,
						CanonPath:    canonPath,
						OrigPath:     r.origPath(canonPath),
						InstancePath: instancePath + "/" + EscapeSegment(name),
						Details:      map[string]any{"from": name, "to": target},
					})
					return true
				}
			}
			delete(obj, name)
			r.actions = append(r.actions, RepairAction{
				Action:       ActionDropExtraneous,
				CanonPath:    canonPath,
				OrigPath:     r.origPath(canonPath),
				InstancePath: instancePath + "/" + EscapeSegment(name),
				Details:      map[string]any{"property": name},
			})
			return true
		}
	}

	// 3. Coerce strings onto lifted pattern enums.
	for _, name := range sortedKeys(obj) {
		schema := asMap(props[name])
		if schema == nil {
			continue
		}
		source := getString(schema, "pattern")
		if source == "" {
			continue
		}
		value, isString := obj[name].(string)
		if !isString {
			continue
		}
		propPath := JoinPointer(canonPath, "properties", name)
		decision, cached := r.eff.Lifts[JoinPointer(propPath, "pattern")]
		if !cached {
			decision = DecideAnchoredSubsetLifting(source)
		}
		if decision.Class != LiftAlternationOfLiterals || len(decision.Literals) == 0 {
			continue
		}
		if containsString(decision.Literals, value) {
			continue
		}
		obj[name] = decision.Literals[0]
		r.actions = append(r.actions, RepairAction{
			Action:       ActionCoerceToEnum,
			CanonPath:    propPath,
			OrigPath:     r.origPath(propPath),
			InstancePath: instancePath + "/" + EscapeSegment(name),
			Details:      map[string]any{"from": value, "to": decision.Literals[0]},
		})
		return true
	}

	// 4. Recurse into declared properties.
	for _, name := range sortedKeys(obj) {
		child := asMap(props[name])
		if child == nil {
			continue
		}
		if r.editOnce(obj[name], child, JoinPointer(canonPath, "properties", name), instancePath+"/"+EscapeSegment(name)) {
			return true
		}
	}
	return false
}

// renameTarget proposes an admissible unused name for an invalid key.
func (r *repairer) renameTarget(idx *CoverageIndex, obj map[string]any, from string) (string, bool) {
	names, ok := idx.Enumerate()
	if !ok {
		return "", false
	}
	for _, name := range names {
		if _, taken := obj[name]; !taken {
			return name, true
		}
	}
	return "", false
}

// evaluatesAt reports whether a name is evaluated by the node's declared
// properties or pattern properties.
func (r *repairer) evaluatesAt(node map[string]any, name string) bool {
	if props := asMap(node["properties"]); props != nil {
		if _, declared := props[name]; declared {
			return true
		}
	}
	for source := range asMap(node["patternProperties"]) {
		decision := DecideAnchoredSubsetLifting(source)
		if decision.Class == LiftAlternationOfLiterals && containsString(decision.Literals, name) {
			return true
		}
	}
	return false
}

// typeDefault returns the cheapest value of a schema's type.
func typeDefault(schema map[string]any) any {
	if schema == nil {
		return nil
	}
	if d, ok := schema["default"]; ok {
		return deepCopyValue(d)
	}
	if c, ok := schema["const"]; ok {
		return deepCopyValue(c)
	}
	if values := asSlice(schema["enum"]); len(values) > 0 {
		return deepCopyValue(values[0])
	}
	switch typeOfNode(schema) {
	case "string":
		return ""
	case "integer", "number":
		if domain := numericDomainOf(schema); domain != nil {
			if v, ok := domain.MinimumValue(); ok {
				return v
			}
		}
		return int64(0)
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	case "null":
		return nil
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
