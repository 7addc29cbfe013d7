package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sim\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Continue? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestSafeModeEnableHasYesFlag(t *testing.T) {
	f := safeModeEnableCmd.Flags().Lookup("yes")
	if f == nil {
		t.Fatal("safe-mode enable has no --yes flag")
	}
	if f.DefValue != "false" {
		t.Errorf("--yes default = %s, want false", f.DefValue)
	}
}
