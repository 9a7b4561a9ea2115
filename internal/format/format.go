// Package format cleans up converted kernel sources.
package format

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Normalize trims trailing whitespace, collapses runs of blank lines into a
// single blank line, and ends the text with exactly one newline.
func Normalize(text string) string {
	out := strings.TrimRight(TrimLines(text), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}

// TrimLines trims trailing whitespace from every line and collapses runs of
// blank lines into one. The first and last lines are never dropped, so a
// fragment keeps its boundaries when spliced back in place.
func TrimLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" && i > 0 && i < len(lines)-1 {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Run pipes text through an external formatter such as
// "astyle --style=google" and returns its standard output.
func Run(ctx context.Context, command, text string) (string, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return text, nil
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 && text != "" {
		return "", fmt.Errorf("%s: empty output", args[0])
	}
	return stdout.String(), nil
}
