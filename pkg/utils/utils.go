// Package utils provides small helpers shared by the persistence, backup and
// preview code: numbered content listings, binary detection and filesystem
// operations such as tree copies and retried renames.
package utils

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ContentWithLineNumber formats a slice of strings by prefixing each line with its line number
// starting from the given offset, with appropriate padding for alignment.
func ContentWithLineNumber(lines []string, offset int) string {
	var b strings.Builder
	maxLineWidth := 1

	if len(lines) > 0 {
		maxLineNum := offset + len(lines) - 1
		maxLineWidth = len(strconv.Itoa(maxLineNum))
	}

	for i, line := range lines {
		fmt.Fprintf(&b, "%*d: %s\n", maxLineWidth, offset+i, line)
	}

	return b.String()
}

// IsBinary reports whether data looks binary: a NULL byte within the first
// 512 bytes.
func IsBinary(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	return bytes.IndexByte(data, 0) >= 0
}
