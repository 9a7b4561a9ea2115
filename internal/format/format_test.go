package format

import (
	"context"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"trailing spaces", "int a;  \nint b;\t\n", "int a;\nint b;\n"},
		{"blank runs", "a\n\n\n\nb\n\nc", "a\n\nb\n\nc\n"},
		{"crlf", "a\r\nb\r\n", "a\nb\n"},
		{"trailing blanks", "a\n\n\n", "a\n"},
		{"empty", "\n\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	in := "void f() {\n\n\n  int x;   \n}\n\n"
	once := Normalize(in)
	if twice := Normalize(once); twice != once {
		t.Errorf("second pass changed output: %q -> %q", once, twice)
	}
}

func TestTrimLines(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"trailing spaces", "void f() {  \n  int x;\t\n}", "void f() {\n  int x;\n}"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"no final newline added", "int x;", "int x;"},
		{"boundaries kept", "\nint x;\n", "\nint x;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimLines(tt.in); got != tt.want {
				t.Errorf("TrimLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRun(t *testing.T) {
	out, err := Run(context.Background(), "cat", "int x;\n")
	if err != nil {
		t.Fatalf("Run(cat): %v", err)
	}
	if out != "int x;\n" {
		t.Errorf("out = %q", out)
	}

	if _, err := Run(context.Background(), "false", "int x;\n"); err == nil {
		t.Error("expected error from failing command")
	}

	out, err = Run(context.Background(), "  ", "keep")
	if err != nil || out != "keep" {
		t.Errorf("empty command: %q, %v", out, err)
	}
}
