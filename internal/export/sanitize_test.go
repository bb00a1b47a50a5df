package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "control chars dropped", in: " A\nB\rC\tD\x00 ", maxLen: 100, want: "ABCD"},
		{name: "max length in runes", in: "ÉÉÉÉÉÉ", maxLen: 3, want: "ÉÉÉ"},
		{name: "allowed punctuation", in: "Take 2 (final), v1.0-b_c", maxLen: 0, want: "Take 2 (final), v1.0-b_c"},
		{name: "disallowed replaced", in: "a/b:c*d", maxLen: 0, want: "a_b_c_d"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeName(tc.in, tc.maxLen)
			if got != tc.want {
				t.Fatalf("SanitizeName(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestValidateOutputDir(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "file.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	if err := ValidateOutputDir(tmp); err != nil {
		t.Fatalf("ValidateOutputDir(%q) error = %v, want nil", tmp, err)
	}

	bad := map[string]string{
		"empty":     "  ",
		"missing":   filepath.Join(tmp, "missing"),
		"traversal": "/tmp/../etc",
		"unclean":   tmp + "/./x",
		"relative":  "exports",
		"file":      filePath,
	}
	for name, dir := range bad {
		t.Run(name, func(t *testing.T) {
			err := ValidateOutputDir(dir)
			if !errors.Is(err, ErrInvalidOutputDir) {
				t.Fatalf("ValidateOutputDir(%q) error = %v, want ErrInvalidOutputDir", dir, err)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("/out", "My Review: take 2", "clip", ".edl"); got != filepath.Join("/out", "My Review_ take 2.edl") {
		t.Errorf("OutputPath = %q", got)
	}
	if got := OutputPath("/out", "", "clip", ".zip"); got != filepath.Join("/out", "clip.zip") {
		t.Errorf("OutputPath fallback = %q", got)
	}
	if got := OutputPath("/out", "\x00", "", ".zip"); !strings.HasSuffix(got, "review.zip") {
		t.Errorf("OutputPath default = %q", got)
	}
}
