// Package input reads free-text flag values from stdin ("-") or a file
// ("@path").
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ExpandValue returns v unchanged unless it is "-" (read stdin) or
// "@path" (read the file). Read text is trimmed and blank lines dropped.
func ExpandValue(v string, stdin io.Reader) (string, error) {
	switch {
	case v == "-":
		return strings.Join(ReadLinesFromReader(stdin), "\n"), nil
	case strings.HasPrefix(v, "@") && len(v) > 1:
		path := strings.TrimPrefix(v, "@")
		file, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		defer file.Close()
		return strings.Join(ReadLinesFromReader(file), "\n"), nil
	default:
		return v, nil
	}
}

// ReadLinesFromReader reads non-empty lines from a reader.
func ReadLinesFromReader(r io.Reader) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
