package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("  back pain \n\nwater broke\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in    string
		stdin string
		want  string
	}{
		{"calm", "ignored", "calm"},
		{"", "", ""},
		{"@", "", "@"},
		{"-", "line one\n  line two  \n", "line one\nline two"},
		{"@" + path, "", "back pain\nwater broke"},
	}
	for _, tt := range tests {
		got, err := ExpandValue(tt.in, strings.NewReader(tt.stdin))
		if err != nil {
			t.Errorf("ExpandValue(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandValueMissingFile(t *testing.T) {
	if _, err := ExpandValue("@"+filepath.Join(t.TempDir(), "nope"), strings.NewReader("")); err == nil {
		t.Error("expected error for missing file")
	}
}
