package foundrydata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// OperationInfo is one OpenAPI operation together with the response schema
// the pipeline generates against.
type OperationInfo struct {
	Key        string `json:"key"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode string `json:"statusCode"`
	// Schema is the raw response schema exactly as written in the document.
	Schema any `json:"-"`
	// CanonPath is where the schema sits inside the document.
	CanonPath  string `json:"canonPath"`
	HasRequest bool   `json:"hasRequest"`
	// SchemaHash identifies the schema body for reuse detection.
	SchemaHash string `json:"schemaHash"`
}

// OpenAPIDocument is a loaded and structurally validated OpenAPI document.
type OpenAPIDocument struct {
	raw        map[string]any
	operations []OperationInfo
}

// LoadOpenAPIDocument parses an OpenAPI 3.x document from JSON or YAML,
// validates it structurally, and extracts the response schemas per
// operation. The schemas handed to the pipeline come from the raw document,
// so generation sees exactly the bytes the author wrote.
func LoadOpenAPIDocument(data []byte) (*OpenAPIDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		if yamlErr := yaml.Unmarshal(data, &raw); yamlErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenAPIDocument, yamlErr)
		}
	}
	if getString(raw, "openapi") == "" {
		return nil, fmt.Errorf("%w: missing openapi version field", ErrOpenAPIDocument)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenAPIDocument, err)
	}
	// Structural validation only; 3.1 keywords the validator does not know
	// are tolerated since generation reads the raw document.
	if err := doc.Validate(context.Background(), openapi3.DisableExamplesValidation()); err != nil && !strings.HasPrefix(getString(raw, "openapi"), "3.1") {
		return nil, fmt.Errorf("%w: %w", ErrOpenAPIDocument, err)
	}

	d := &OpenAPIDocument{raw: raw}
	d.extractOperations()
	return d, nil
}

// extractOperations walks the raw paths object in sorted order.
func (d *OpenAPIDocument) extractOperations() {
	paths := asMap(d.raw["paths"])
	for _, path := range sortedKeys(paths) {
		item := asMap(paths[path])
		for _, method := range []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"} {
			op := asMap(item[method])
			if op == nil {
				continue
			}
			key := getString(op, "operationId")
			if key == "" {
				key = strings.ToUpper(method) + " " + path
			}
			_, hasRequest := op["requestBody"]
			responses := asMap(op["responses"])
			for _, status := range sortedKeys(responses) {
				response := asMap(responses[status])
				content := asMap(response["content"])
				media := asMap(content["application/json"])
				schema, ok := media["schema"]
				if !ok {
					continue
				}
				canonPath := JoinPointer(RootPointer, "paths", path, method, "responses", status, "content", "application/json", "schema")
				d.operations = append(d.operations, OperationInfo{
					Key:        key,
					Method:     strings.ToUpper(method),
					Path:       path,
					StatusCode: status,
					Schema:     schema,
					CanonPath:  canonPath,
					HasRequest: hasRequest,
					SchemaHash: SchemaHash(resolveComponentRefs(d.raw, schema, 0)),
				})
				break // one response schema per operation: prefer the lowest status
			}
		}
	}
}

// Operations returns the extracted operations in extraction order: paths
// sorted, then methods in a fixed HTTP order.
func (d *OpenAPIDocument) Operations() []OperationInfo {
	out := make([]OperationInfo, len(d.operations))
	copy(out, d.operations)
	return out
}

// SelectOperations filters to the requested operation keys, failing on
// unknown keys so typos surface instead of silently shrinking scope.
func (d *OpenAPIDocument) SelectOperations(keys []string) ([]OperationInfo, error) {
	if len(keys) == 0 {
		return d.Operations(), nil
	}
	byKey := map[string][]OperationInfo{}
	for _, op := range d.operations {
		byKey[op.Key] = append(byKey[op.Key], op)
	}
	var out []OperationInfo
	for _, key := range keys {
		ops, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, key)
		}
		out = append(out, ops...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CanonPath < out[j].CanonPath })
	return out, nil
}

// ResponseSchema resolves an operation's schema with component refs expanded
// into a self-contained document the pipeline can normalize.
func (d *OpenAPIDocument) ResponseSchema(op OperationInfo) any {
	return resolveComponentRefs(d.raw, op.Schema, 0)
}

// resolveComponentRefs inlines #/components/schemas/... references so a
// response schema stands alone. Cyclic references are cut at a fixed depth
// and left as-is for the oracle to resolve.
func resolveComponentRefs(doc map[string]any, schema any, depth int) any {
	if depth > DefaultMaxRefDepth {
		return schema
	}
	switch node := schema.(type) {
	case map[string]any:
		if ref := getString(node, "$ref"); strings.HasPrefix(ref, "#/components/") {
			if target, ok := resolvePointer(doc, SplitPointer(ref)); ok {
				return resolveComponentRefs(doc, deepCopyValue(target), depth+1)
			}
			return schema
		}
		out := make(map[string]any, len(node))
		for _, key := range sortedKeys(node) {
			out[key] = resolveComponentRefs(doc, node[key], depth+1)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, member := range node {
			out[i] = resolveComponentRefs(doc, member, depth+1)
		}
		return out
	default:
		return schema
	}
}
