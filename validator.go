package foundrydata

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"
)

// Oracle engine identity, folded into cache keys so a different engine never
// reuses a stale compilation.
const (
	EngineClass = "kaptinlin-jsonschema"
	EngineMajor = 0
)

// MaxValidatorCacheEntries bounds the process-wide compiled-schema cache.
const MaxValidatorCacheEntries = 64

// OracleError is one validation error reported by the source oracle.
type OracleError struct {
	Keyword          string `json:"keyword"`
	Code             string `json:"code"`
	Message          string `json:"message"`
	InstanceLocation string `json:"instanceLocation,omitempty"`
}

// ValidateOptions configure oracle validation.
type ValidateOptions struct {
	ValidateFormats bool
	Discriminator   bool
	Plan            *PlanOptions
	Registry        *ResolutionRegistry
	// StrictExternalRefs is not read by Compile or Validate; unresolved external
	// references fail fast only through PipelineOptions.StrictExternalRefs in
	// the pipeline run.
	StrictExternalRefs bool
}

// flagsKey renders the oracle flags in sorted order for cache keying and
// consistency checks.
func (o ValidateOptions) flagsKey() string {
	flags := []string{
		fmt.Sprintf("discriminator=%t", o.Discriminator),
		fmt.Sprintf("validateFormats=%t", o.ValidateFormats),
	}
	sort.Strings(flags)
	return strings.Join(flags, ",")
}

// ValidateResult is the per-instance oracle verdict.
type ValidateResult struct {
	Valid  bool          `json:"valid"`
	Errors []OracleError `json:"errors,omitempty"`
}

// ValidatorAdapter binds the pipeline to the source oracle. It compiles the
// ORIGINAL schema (never the canonical view) and owns a small LRU of compiled
// validators shared by concurrent runs.
type ValidatorAdapter struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
}

type cacheEntry struct {
	key    string
	schema *jsonschema.Schema
}

// NewValidatorAdapter returns an adapter with the default cache bound.
func NewValidatorAdapter() *ValidatorAdapter {
	return &ValidatorAdapter{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: MaxValidatorCacheEntries,
	}
}

// defaultAdapter is the process-wide adapter used by the package-level
// Validate entry point.
var defaultAdapter = NewValidatorAdapter()

// SchemaHash is the canonical JSON SHA-256 of a schema body; it is the
// authoritative identity for cache keying.
func SchemaHash(schema any) string {
	sum := sha256.Sum256(canonicalJSON(schema))
	return hex.EncodeToString(sum[:])
}

func cacheKey(schemaHash, flags, planSub, registryFingerprint string) string {
	return strings.Join([]string{
		schemaHash,
		fmt.Sprintf("%s/%d", EngineClass, EngineMajor),
		flags,
		planSub,
		registryFingerprint,
	}, "|")
}

// Compile returns a compiled oracle validator for the original schema,
// consulting the LRU first. A compile failure is fail-fast.
func (a *ValidatorAdapter) Compile(originalSchema any, opts ValidateOptions) (*jsonschema.Schema, []Envelope, error) {
	var envelopes []Envelope

	if missing := findMissingInternalRefs(originalSchema); len(missing) > 0 {
		envelopes = append(envelopes, Envelope{
			Code:      CodeSchemaInternalRefMissing,
			CanonPath: RootPointer,
			Phase:     PhaseValidate,
			Details:   map[string]any{"ref": missing[0]},
		})
		return nil, envelopes, fmt.Errorf("%w: %s", ErrOracleCompile, missing[0])
	}

	fingerprint := "0"
	if opts.Registry != nil {
		fingerprint = opts.Registry.Fingerprint()
	}
	var planSub string
	if opts.Plan != nil {
		planSub = opts.Plan.withDefaults().subKey()
	}
	key := cacheKey(SchemaHash(originalSchema), opts.flagsKey(), planSub, fingerprint)

	a.mu.Lock()
	if element, ok := a.entries[key]; ok {
		a.order.MoveToFront(element)
		schema := element.Value.(*cacheEntry).schema
		a.mu.Unlock()
		return schema, nil, nil
	}
	a.mu.Unlock()

	compiler := jsonschema.NewCompiler()
	compiler.SetAssertFormat(opts.ValidateFormats)
	if opts.Registry != nil {
		envelopes = append(envelopes, opts.Registry.registerInto(compiler)...)
	}

	body, err := json.Marshal(originalSchema)
	if err != nil {
		return nil, envelopes, fmt.Errorf("%w: %w", ErrOracleCompile, err)
	}
	schema, err := compiler.Compile(body)
	if err != nil {
		envelopes = append(envelopes, Envelope{
			Code:      CodeValidationCompileError,
			CanonPath: RootPointer,
			Phase:     PhaseValidate,
			Details:   map[string]any{"error": err.Error()},
		})
		return nil, envelopes, fmt.Errorf("%w: %w", ErrOracleCompile, err)
	}

	a.mu.Lock()
	element := a.order.PushFront(&cacheEntry{key: key, schema: schema})
	a.entries[key] = element
	for a.order.Len() > a.maxSize {
		oldest := a.order.Back()
		a.order.Remove(oldest)
		delete(a.entries, oldest.Value.(*cacheEntry).key)
	}
	a.mu.Unlock()

	return schema, envelopes, nil
}

// ValidateInstance runs one instance through a compiled validator. Invalid
// instances are data, not errors.
func (a *ValidatorAdapter) ValidateInstance(schema *jsonschema.Schema, instance any) *ValidateResult {
	result := schema.Validate(instance)
	if result.IsValid() {
		return &ValidateResult{Valid: true}
	}
	out := &ValidateResult{Valid: false}
	collectOracleErrors(result, &out.Errors)
	return out
}

func collectOracleErrors(result *jsonschema.EvaluationResult, out *[]OracleError) {
	for keyword, evalErr := range result.Errors {
		*out = append(*out, OracleError{
			Keyword:          keyword,
			Code:             evalErr.Code,
			Message:          evalErr.Error(),
			InstanceLocation: result.InstanceLocation,
		})
	}
	for _, detail := range result.Details {
		if !detail.IsValid() {
			collectOracleErrors(detail, out)
		}
	}
	sort.Slice(*out, func(i, j int) bool {
		if (*out)[i].InstanceLocation != (*out)[j].InstanceLocation {
			return (*out)[i].InstanceLocation < (*out)[j].InstanceLocation
		}
		return (*out)[i].Keyword < (*out)[j].Keyword
	})
}

// CheckFlagConsistency compares the flag sets of the source and planning
// oracle instances. Any difference is an AJV_FLAGS_MISMATCH fail-fast.
func CheckFlagConsistency(source, planning ValidateOptions) *Envelope {
	sourceKey := source.flagsKey()
	planningKey := planning.flagsKey()
	if sourceKey == planningKey {
		return nil
	}
	instance := "both"
	diff := []string{}
	if source.ValidateFormats != planning.ValidateFormats {
		diff = append(diff, "validateFormats")
	}
	if source.Discriminator != planning.Discriminator {
		diff = append(diff, "discriminator")
	}
	return &Envelope{
		Code:      CodeAjvFlagsMismatch,
		CanonPath: RootPointer,
		Phase:     PhaseValidate,
		Details:   map[string]any{"instance": instance, "diff": diff},
	}
}

// Validate compiles the original schema against the oracle and validates one
// instance. It is the package-level convenience over the shared adapter.
func Validate(instance any, originalSchema any, opts *ValidateOptions) (*ValidateResult, error) {
	o := ValidateOptions{}
	if opts != nil {
		o = *opts
	}
	schema, _, err := defaultAdapter.Compile(originalSchema, o)
	if err != nil {
		return nil, err
	}
	return defaultAdapter.ValidateInstance(schema, instance), nil
}

// findMissingInternalRefs walks a schema document and returns local pointer
// refs that do not resolve.
func findMissingInternalRefs(schema any) []string {
	var missing []string
	var walk func(v any)
	walk = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			if ref := getString(node, "$ref"); strings.HasPrefix(ref, "#/") {
				if _, ok := resolvePointer(schema, SplitPointer(ref)); !ok {
					missing = append(missing, ref)
				}
			}
			for _, key := range sortedKeys(node) {
				walk(node[key])
			}
		case []any:
			for _, member := range node {
				walk(member)
			}
		}
	}
	walk(schema)
	return missing
}
