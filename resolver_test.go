package foundrydata

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFingerprint(t *testing.T) {
	empty := NewResolutionRegistry()
	assert.Equal(t, "0", empty.Fingerprint())

	var nilRegistry *ResolutionRegistry
	assert.Equal(t, "0", nilRegistry.Fingerprint())

	r1 := NewResolutionRegistry()
	r1.Add(ResolutionEntry{URI: "https://a.example/s1", Schema: map[string]any{"type": "string"}})
	r1.Add(ResolutionEntry{URI: "https://a.example/s2", Schema: map[string]any{"type": "integer"}})

	// Insertion order does not matter.
	r2 := NewResolutionRegistry()
	r2.Add(ResolutionEntry{URI: "https://a.example/s2", Schema: map[string]any{"type": "integer"}})
	r2.Add(ResolutionEntry{URI: "https://a.example/s1", Schema: map[string]any{"type": "string"}})
	assert.Equal(t, r1.Fingerprint(), r2.Fingerprint())
	assert.NotEqual(t, "0", r1.Fingerprint())

	// Content changes move the fingerprint.
	r3 := NewResolutionRegistry()
	r3.Add(ResolutionEntry{URI: "https://a.example/s1", Schema: map[string]any{"type": "boolean"}})
	r3.Add(ResolutionEntry{URI: "https://a.example/s2", Schema: map[string]any{"type": "integer"}})
	assert.NotEqual(t, r1.Fingerprint(), r3.Fingerprint())
}

func TestSnapshotRoundTrip(t *testing.T) {
	registry := NewResolutionRegistry()
	registry.Add(ResolutionEntry{
		URI:     "https://a.example/address",
		Schema:  map[string]any{"type": "object"},
		Dialect: CanonicalDialect,
	})
	registry.Add(ResolutionEntry{
		URI:    "https://a.example/name",
		Schema: map[string]any{"type": "string", "minLength": float64(1)},
	})

	var buf bytes.Buffer
	require.NoError(t, registry.WriteSnapshot(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, "header plus one line per entry")
	assert.Contains(t, lines[0], "fingerprint")

	restored, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, registry.Fingerprint(), restored.Fingerprint())
	entry, ok := restored.Get("https://a.example/name")
	require.True(t, ok)
	assert.True(t, jsonEqual(entry.Schema, map[string]any{"type": "string", "minLength": float64(1)}))
}

func TestReadSnapshotRejectsBadInput(t *testing.T) {
	_, err := ReadSnapshot(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrSnapshotHeader)

	_, err = ReadSnapshot(strings.NewReader("not json\n"))
	assert.ErrorIs(t, err, ErrSnapshotHeader)

	_, err = ReadSnapshot(strings.NewReader(`{"fingerprint":"abc"}` + "\n" + `{"broken`))
	assert.ErrorIs(t, err, ErrSnapshotEntry)

	// A header that does not match the entries is rejected.
	_, err = ReadSnapshot(strings.NewReader(`{"fingerprint":"abc"}` + "\n" + `{"uri":"https://a.example/x","schema":{"type":"string"}}` + "\n"))
	assert.ErrorIs(t, err, ErrSnapshotHeader)
}

func TestExternalRefs(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"a": map[string]any{"$ref": "https://a.example/address#/properties/city"},
			"b": map[string]any{"$ref": "#/$defs/local"},
			"c": map[string]any{"$ref": "https://a.example/address"},
		},
		"$defs": map[string]any{"local": map[string]any{}},
	}
	refs := ExternalRefs(schema)
	assert.Equal(t, []string{"https://a.example/address"}, refs, "fragments collapse to one URI, local refs excluded")
}

func TestCheckExternalRefsStrictMode(t *testing.T) {
	schema := map[string]any{
		"$ref": "https://a.example/missing",
	}

	envelopes, err := CheckExternalRefs(schema, nil, false)
	assert.NoError(t, err, "lax mode only warns")
	require.Len(t, envelopes, 1)
	assert.Equal(t, CodeExternalRefUnresolved, envelopes[0].Code)

	_, err = CheckExternalRefs(schema, nil, true)
	assert.ErrorIs(t, err, ErrExternalRefUnresolved)

	registry := NewResolutionRegistry()
	registry.Add(ResolutionEntry{URI: "https://a.example/missing", Schema: map[string]any{}})
	envelopes, err = CheckExternalRefs(schema, registry, true)
	assert.NoError(t, err)
	assert.Empty(t, envelopes)
}

func TestCompatibleDialect(t *testing.T) {
	assert.True(t, compatibleDialect(""))
	assert.True(t, compatibleDialect(CanonicalDialect))
	assert.True(t, compatibleDialect("http://json-schema.org/draft-07/schema#"))
	assert.False(t, compatibleDialect("https://example.com/my-own-dialect"))
}
