package foundrydata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelopeKnownCodes(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{
			name: "valid unsat envelope",
			env: Envelope{
				Code:      CodeUnsatRequiredVsPNames,
				CanonPath: "#",
				Phase:     PhaseCompose,
				Details:   map[string]any{"property": "forbidden"},
			},
		},
		{
			name:    "unknown code",
			env:     Envelope{Code: "NOT_A_CODE", CanonPath: "#", Phase: PhaseCompose},
			wantErr: ErrUnknownDiagnosticCode,
		},
		{
			name: "missing required detail",
			env: Envelope{
				Code:      CodeUnsatRequiredVsPNames,
				CanonPath: "#",
				Phase:     PhaseCompose,
				Details:   map[string]any{},
			},
			wantErr: ErrDetailSchemaViolation,
		},
		{
			name: "enum detail out of range",
			env: Envelope{
				Code:      CodeUnsatNumericBounds,
				CanonPath: "#",
				Phase:     PhaseCompose,
				Details:   map[string]any{"reason": "bogus"},
			},
			wantErr: ErrDetailSchemaViolation,
		},
		{
			name: "canonPath shadowed at top level",
			env: Envelope{
				Code:      CodeSolverTimeout,
				CanonPath: "#",
				Phase:     PhaseCompose,
				Details:   map[string]any{"timeoutMs": 100, "reason": "budget", "canonPath": "#/x"},
			},
			wantErr: ErrCanonPathShadowed,
		},
		{
			name: "canonPath shadowed in nested payload",
			env: Envelope{
				Code:      CodeSolverTimeout,
				CanonPath: "#",
				Phase:     PhaseCompose,
				Details: map[string]any{
					"timeoutMs": 100,
					"reason":    "budget",
					"extra":     map[string]any{"canonPath": "#/x"},
				},
			},
			wantErr: ErrCanonPathShadowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope(tt.env)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestEveryRegisteredCodeHasSeverity(t *testing.T) {
	for code := range codeRegistry {
		sev, ok := CodeSeverity(code)
		require.True(t, ok, "code %s", code)
		assert.LessOrEqual(t, sev, SeverityFatalUnsat)
	}
}

func TestBusOrdering(t *testing.T) {
	bus := NewBus()
	bus.Emit(Envelope{Code: CodeOneOfCollapsed, CanonPath: "#", Phase: PhaseNormalize})
	bus.Emit(Envelope{
		Code: CodeComplexityCapEnum, CanonPath: "#/a", Phase: PhaseCompose,
		Details: map[string]any{"observed": 10, "limit": 5},
	})
	bus.Emit(Envelope{Code: CodeDefsLifted, CanonPath: "#/b", Phase: PhaseNormalize})

	entries := bus.Entries()
	require.Len(t, entries, 3)
	// Phase order first, emission order within a phase.
	assert.Equal(t, PhaseNormalize, entries[0].Phase)
	assert.Equal(t, "#", entries[0].CanonPath)
	assert.Equal(t, PhaseNormalize, entries[1].Phase)
	assert.Equal(t, "#/b", entries[1].CanonPath)
	assert.Equal(t, PhaseCompose, entries[2].Phase)
}

func TestBusFatalDetection(t *testing.T) {
	bus := NewBus()
	assert.False(t, bus.HasFatal())
	bus.Emit(Envelope{
		Code: CodeUnsatNumericBounds, CanonPath: "#", Phase: PhaseCompose,
		Details: map[string]any{"reason": "rangeEmpty"},
	})
	assert.True(t, bus.HasFatal())
	assert.Len(t, bus.ByCode(CodeUnsatNumericBounds), 1)
	assert.Len(t, bus.ByPhase(PhaseCompose), 1)
}

func TestEmitPanicsOnMalformedEnvelope(t *testing.T) {
	bus := NewBus()
	assert.Panics(t, func() {
		bus.Emit(Envelope{Code: "BOGUS", CanonPath: "#", Phase: PhaseCompose})
	})
}
