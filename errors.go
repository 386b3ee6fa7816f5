package foundrydata

import "errors"

// === Schema Input Errors ===
var (
	// ErrSchemaUnmarshal is returned when the schema document cannot be parsed.
	ErrSchemaUnmarshal = errors.New("schema unmarshal failed")

	// ErrSchemaType is returned when a schema node is neither a boolean nor an object.
	ErrSchemaType = errors.New("schema node must be a boolean or an object")

	// ErrPointerNotFound is returned when a JSON Pointer does not resolve inside the document.
	ErrPointerNotFound = errors.New("json pointer not found")

	// ErrRefDepthExceeded is returned when $ref resolution exceeds the configured depth cap.
	ErrRefDepthExceeded = errors.New("reference depth cap exceeded")
)

// === Diagnostics Errors ===
var (
	// ErrUnknownDiagnosticCode is returned when an envelope carries a code outside the closed set.
	ErrUnknownDiagnosticCode = errors.New("unknown diagnostic code")

	// ErrDetailSchemaViolation is returned when envelope details do not conform to the code's detail schema.
	ErrDetailSchemaViolation = errors.New("diagnostic details do not match the detail schema")

	// ErrCanonPathShadowed is returned when a details payload carries a canonPath key.
	ErrCanonPathShadowed = errors.New("canonPath is reserved for the envelope level")
)

// === Numeric Conversion Errors ===
var (
	// ErrUnsupportedTypeForRat is returned when a value cannot be interpreted as a rational.
	ErrUnsupportedTypeForRat = errors.New("unsupported type for rational conversion")

	// ErrRatConversion is returned when string conversion to a rational fails.
	ErrRatConversion = errors.New("failed to convert value to rational")
)

// === Oracle and Resolver Errors ===
var (
	// ErrOracleCompile is returned when the source oracle rejects the original schema.
	ErrOracleCompile = errors.New("oracle schema compilation failed")

	// ErrExternalRefUnresolved is returned in strict mode when an external $ref has no registry entry.
	ErrExternalRefUnresolved = errors.New("external reference unresolved")

	// ErrSnapshotHeader is returned when a snapshot stream is missing its fingerprint header.
	ErrSnapshotHeader = errors.New("snapshot header line missing or malformed")

	// ErrSnapshotEntry is returned when a snapshot entry line cannot be decoded.
	ErrSnapshotEntry = errors.New("snapshot entry malformed")

	// ErrOpenAPIDocument is returned when an OpenAPI document fails structural validation.
	ErrOpenAPIDocument = errors.New("openapi document invalid")

	// ErrOperationNotFound is returned when a selected operation key is absent from the document.
	ErrOperationNotFound = errors.New("operation not found in document")
)

// === Pipeline Errors ===
var (
	// ErrPipelineFailed is returned by ExecutePipeline when the run status is failed.
	ErrPipelineFailed = errors.New("pipeline failed")

	// ErrCoverageThreshold names an unmet minCoverage gate. No function in this
	// package returns it; ExecutePipeline reports the gate through the coverage
	// report status and a COVERAGE_THRESHOLD_NOT_MET diagnostic.
	ErrCoverageThreshold = errors.New("minimum coverage not met")

	// ErrGeneratorExhausted names a slot that no candidate could fill. No
	// function in this package returns it; GenerateItems skips such a slot.
	ErrGeneratorExhausted = errors.New("generator exhausted all attempts for a required slot")
)
