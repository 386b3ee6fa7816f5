package foundrydata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"
)

// ResolutionEntry is one externally-resolved schema keyed by URI. Transport
// (HTTP, disk cache) lives outside the core; the registry only sees the
// already-fetched bodies.
type ResolutionEntry struct {
	URI         string         `json:"uri"`
	Schema      any            `json:"schema"`
	ContentHash string         `json:"contentHash"`
	Dialect     string         `json:"dialect,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// ResolutionRegistry holds pre-resolved external schemas for a run.
type ResolutionRegistry struct {
	entries map[string]ResolutionEntry
}

// NewResolutionRegistry returns an empty registry.
func NewResolutionRegistry() *ResolutionRegistry {
	return &ResolutionRegistry{entries: make(map[string]ResolutionEntry)}
}

// Add registers an entry, computing the content hash when absent.
func (r *ResolutionRegistry) Add(entry ResolutionEntry) {
	if entry.ContentHash == "" {
		sum := sha256.Sum256(canonicalJSON(entry.Schema))
		entry.ContentHash = hex.EncodeToString(sum[:])
	}
	r.entries[entry.URI] = entry
}

// Get returns the entry registered for a URI.
func (r *ResolutionRegistry) Get(uri string) (ResolutionEntry, bool) {
	entry, ok := r.entries[uri]
	return entry, ok
}

// Len returns the number of registered entries.
func (r *ResolutionRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Fingerprint summarizes the registry for cache keying:
// sha256 of the sorted "uri SP contentHash" lines, or "0" when empty.
func (r *ResolutionRegistry) Fingerprint() string {
	if r == nil || len(r.entries) == 0 {
		return "0"
	}
	lines := make([]string, 0, len(r.entries))
	for uri, entry := range r.entries {
		lines = append(lines, uri+" "+entry.ContentHash)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// compatibleDialect reports whether an entry's declared dialect can be
// compiled alongside the canonical one. Unknown dialects are rejected rather
// than guessed at.
func compatibleDialect(dialect string) bool {
	if dialect == "" {
		return true
	}
	for _, known := range []string{
		"https://json-schema.org/draft/2020-12/schema",
		"https://json-schema.org/draft/2019-09/schema",
		"http://json-schema.org/draft-07/schema#",
		"http://json-schema.org/draft-06/schema#",
		"http://json-schema.org/draft-04/schema#",
	} {
		if dialect == known {
			return true
		}
	}
	return false
}

// registerInto feeds the registry into an oracle compiler, skipping entries
// with incompatible dialects.
func (r *ResolutionRegistry) registerInto(compiler *jsonschema.Compiler) []Envelope {
	if r == nil {
		return nil
	}
	var envelopes []Envelope
	uris := make([]string, 0, len(r.entries))
	for uri := range r.entries {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		entry := r.entries[uri]
		if !compatibleDialect(entry.Dialect) {
			envelopes = append(envelopes, Envelope{
				Code:      CodeResolverSkippedDialect,
				CanonPath: RootPointer,
				Phase:     PhaseValidate,
				Details:   map[string]any{"uri": uri, "dialect": entry.Dialect},
			})
			continue
		}
		body, err := json.Marshal(entry.Schema)
		if err != nil {
			continue
		}
		if _, err := compiler.Compile(body, uri); err != nil {
			envelopes = append(envelopes, Envelope{
				Code:      CodeResolverSkippedDialect,
				CanonPath: RootPointer,
				Phase:     PhaseValidate,
				Details:   map[string]any{"uri": uri, "dialect": entry.Dialect},
			})
		}
	}
	return envelopes
}

// ExternalRefs lists the absolute-URI references of a schema document in
// sorted order.
func ExternalRefs(schema any) []string {
	seen := map[string]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			if ref := getString(node, "$ref"); ref != "" && !strings.HasPrefix(ref, "#") {
				base, _, _ := strings.Cut(ref, "#")
				seen[base] = true
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
	out := make([]string, 0, len(seen))
	for uri := range seen {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// CheckExternalRefs verifies every external reference has a registry entry.
// In strict mode the first miss fails fast.
func CheckExternalRefs(schema any, registry *ResolutionRegistry, strict bool) ([]Envelope, error) {
	var envelopes []Envelope
	for _, uri := range ExternalRefs(schema) {
		if registry != nil {
			if _, ok := registry.Get(uri); ok {
				continue
			}
		}
		envelopes = append(envelopes, Envelope{
			Code:      CodeExternalRefUnresolved,
			CanonPath: RootPointer,
			Phase:     PhaseValidate,
			Details:   map[string]any{"ref": uri},
		})
		if strict {
			return envelopes, fmt.Errorf("%w: %s", ErrExternalRefUnresolved, uri)
		}
	}
	return envelopes, nil
}

// snapshotHeader is the first NDJSON line of a registry snapshot.
type snapshotHeader struct {
	Fingerprint string `json:"fingerprint"`
}

// WriteSnapshot serializes the registry as NDJSON: a fingerprint header line
// followed by one entry per line in sorted URI order.
func (r *ResolutionRegistry) WriteSnapshot(w io.Writer) error {
	header, err := json.Marshal(snapshotHeader{Fingerprint: r.Fingerprint()})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s\n", header); err != nil {
		return err
	}
	uris := make([]string, 0, len(r.entries))
	for uri := range r.entries {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		line, err := json.Marshal(r.entries[uri])
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot parses an NDJSON snapshot back into a registry. The header
// fingerprint is verified against the reconstructed entries.
func ReadSnapshot(reader io.Reader) (*ResolutionRegistry, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, ErrSnapshotHeader
	}
	var header snapshotHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil || header.Fingerprint == "" {
		return nil, ErrSnapshotHeader
	}

	registry := NewResolutionRegistry()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ResolutionEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.URI == "" {
			return nil, ErrSnapshotEntry
		}
		registry.Add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if got := registry.Fingerprint(); got != header.Fingerprint {
		return nil, fmt.Errorf("%w: fingerprint %s does not match entries (%s)", ErrSnapshotHeader, header.Fingerprint, got)
	}
	return registry, nil
}
