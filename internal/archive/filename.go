package archive

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/link-content-scraper/internal/hash/sha256"
)

const (
	// DefaultMaxFilenameLength caps the length of a whole filename.
	DefaultMaxFilenameLength = 100
	// MinFilenameLength is the smallest cap honoured; it leaves room for
	// "untitled" plus the suffix tail.
	MinFilenameLength = 20

	suffixLength = 8
	// tailLength is len("_" + suffix + ".md").
	tailLength = 1 + suffixLength + 3
)

var (
	nonWord       = regexp.MustCompile(`[^\w\s-]`)
	separatorRuns = regexp.MustCompile(`[-\s]+`)
)

// URLSuffix returns the eight hex characters that disambiguate filenames
// derived from the same title.
func URLSuffix(rawURL string) string {
	return sha256.Short(rawURL, suffixLength)
}

// SafeFilename turns a title into a portable file name. Accents are
// decomposed and dropped, punctuation removed, whitespace and hyphen runs
// collapsed to one hyphen, and the result cut so that it and the
// "_<suffix>.md" tail fit in maxLen bytes. Empty results become "untitled".
func SafeFilename(title, rawURL string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxFilenameLength
	}
	maxLen = max(maxLen, MinFilenameLength)
	stemLen := maxLen - tailLength
	suffix := URLSuffix(rawURL)

	ascii, _, err := transform.String(asciiFold(), title)
	if err != nil {
		ascii = ""
	}
	ascii = nonWord.ReplaceAllString(ascii, "")
	ascii = strings.Trim(separatorRuns.ReplaceAllString(ascii, "-"), "-")
	if len(ascii) > stemLen {
		ascii = strings.TrimRight(ascii[:stemLen], "-")
	}
	if ascii == "" {
		ascii = "untitled"
	}
	return fmt.Sprintf("%s_%s.md", ascii, suffix)
}

// asciiFold is rebuilt per call because transform chains keep state.
func asciiFold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
}
