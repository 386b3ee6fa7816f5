// Package foundrydata turns a JSON Schema (2020-12 and earlier drafts) or an
// OpenAPI 3.x response schema into a deterministic stream of synthetic
// instances the same schema accepts, while measuring and optionally steering
// structural coverage of the schema.
//
// The core is a five-phase pipeline (Normalize → Compose → Generate → Repair
// → Validate) with a coverage subsystem (analyzer, planner, accumulator,
// evaluator) layered on top. Given the same schema, seed, count, and plan
// options, two runs produce byte-identical items, targets, and metrics.
//
// Quick start:
//
//	schema := map[string]any{
//		"type": "object",
//		"properties": map[string]any{
//			"id": map[string]any{"type": "integer", "minimum": float64(0)},
//		},
//		"required": []any{"id"},
//	}
//	result, err := foundrydata.ExecutePipeline(context.Background(), schema,
//		&foundrydata.PipelineOptions{Count: 10, Seed: 37})
//
// Validation is delegated to a source oracle that compiles the original,
// untouched schema; every emitted item is confirmed against it.
package foundrydata
