package engine_test

import (
	"testing"

	"github.com/campus/textbook-engine/engine"
)

// =============================================================================
// STATUS DERIVATION TESTS
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		lines []engine.Line
		want  engine.Status
	}{
		{
			name:  "no lines touched",
			lines: []engine.Line{{Distributed: 30}, {Distributed: 25}},
			want:  engine.StatusDistributed,
		},
		{
			name:  "one line partially returned",
			lines: []engine.Line{{Distributed: 30, Returned: 10}, {Distributed: 25}},
			want:  engine.StatusPartial,
		},
		{
			name:  "all lines fully returned",
			lines: []engine.Line{{Distributed: 30, Returned: 30}, {Distributed: 25, Returned: 25}},
			want:  engine.StatusReturned,
		},
		{
			name:  "fully accounted with missing copies",
			lines: []engine.Line{{Distributed: 30, Returned: 27, Missing: 3}},
			want:  engine.StatusReturned,
		},
		{
			name:  "missing only still counts as progress",
			lines: []engine.Line{{Distributed: 30, Missing: 2}},
			want:  engine.StatusPartial,
		},
		{
			name:  "one line settled one untouched",
			lines: []engine.Line{{Distributed: 30, Returned: 30}, {Distributed: 25}},
			want:  engine.StatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.DeriveStatus(tt.lines)
			if got != tt.want {
				t.Errorf("DeriveStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLine_Outstanding(t *testing.T) {
	line := engine.Line{Distributed: 30, Returned: 20, Missing: 5}
	if got := line.Outstanding(); got != 5 {
		t.Errorf("Outstanding() = %d, want 5", got)
	}
}
