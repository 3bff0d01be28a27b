package crawler

import (
	"fmt"
	"strings"
)

const (
	// MinContentLength is the shortest accepted content, in characters.
	MinContentLength = 50
	// MinLineBreaks is the minimum number of newlines in accepted content.
	MinLineBreaks = 3
)

// MetadataPrefixes are the header lines emitted by the extraction service and
// the archive builder. Lines starting with them carry no article text.
var MetadataPrefixes = []string{
	"# Original URL:",
	"Title:",
	"URL Source:",
	"Markdown Content:",
}

// ValidateContent applies the minimum-substance rules to extracted content.
// It returns nil when the content is worth keeping.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if n := len([]rune(trimmed)); n < MinContentLength {
		return fmt.Errorf("%w: %d characters", ErrContentTooShort, n)
	}
	if n := strings.Count(trimmed, "\n"); n < MinLineBreaks {
		return fmt.Errorf("%w: %d line breaks", ErrContentTooShort, n)
	}
	if metadataOnly(trimmed) {
		return ErrMetadataOnly
	}
	return nil
}

func metadataOnly(content string) bool {
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !IsMetadataLine(line) {
			return false
		}
	}
	return true
}

// IsMetadataLine reports whether a trimmed line starts with a metadata prefix.
func IsMetadataLine(line string) bool {
	for _, prefix := range MetadataPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
