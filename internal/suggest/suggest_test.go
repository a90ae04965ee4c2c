package suggest

import (
	"reflect"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"notes", "", 5},
		{"", "end", 3},
		{"notes", "notes", 0},
		{"note", "notes", 1},
		{"intensty", "intensity", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFlag(t *testing.T) {
	valid := []string{"--start", "--end", "--duration", "--intensity", "--notes"}

	if got := Flag("--intensty", valid); !reflect.DeepEqual(got, []string{"--intensity"}) {
		t.Errorf("Flag(--intensty) = %v", got)
	}
	if got := Flag("note", valid); len(got) == 0 || got[0] != "--notes" {
		t.Errorf("Flag(note) = %v, want --notes first", got)
	}
	if got := Flag("--xyzzyplugh", valid); got != nil {
		t.Errorf("Flag(--xyzzyplugh) = %v, want none", got)
	}
}

func TestGetFlagHint(t *testing.T) {
	if got := GetFlagHint("--Rating"); got != "--intensity, -i" {
		t.Errorf("GetFlagHint(--Rating) = %q", got)
	}
	if got := GetFlagHint("--notes"); got != "" {
		t.Errorf("GetFlagHint(--notes) = %q, want empty", got)
	}
}
