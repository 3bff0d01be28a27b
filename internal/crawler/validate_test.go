package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	article := "# A heading\n\nSome body text that goes on for a while.\nAnother line of prose.\nAnd one more.\n"
	cases := []struct {
		name    string
		content string
		wantErr error
	}{
		{"accepted", article, nil},
		{"empty", "", ErrContentTooShort},
		{"short", "tiny\n\n\n", ErrContentTooShort},
		{"long single line", strings.Repeat("word ", 40), ErrContentTooShort},
		{"two line breaks", strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 10) + "\nend", ErrContentTooShort},
		{
			"metadata only",
			"Title: Something\n\nURL Source: https://example.com/a\n\nMarkdown Content:\n",
			ErrMetadataOnly,
		},
		{
			"metadata with body",
			"Title: Something\nURL Source: https://example.com/a\nMarkdown Content:\nActual words live here, a sentence.\n",
			nil,
		},
		{
			"archive header only",
			"# Original URL: https://example.com/some/long/path/segment\n\nTitle: x\n\nURL Source: y\n",
			ErrMetadataOnly,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateContent(tc.content)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateContentIsIdempotent(t *testing.T) {
	t.Parallel()

	content := "Line one of a real article body.\nLine two.\nLine three.\nLine four is here.\n"
	require.Equal(t, ValidateContent(content), ValidateContent(content))
}

func TestIsMetadataLine(t *testing.T) {
	t.Parallel()

	require.True(t, IsMetadataLine("URL Source: https://example.com"))
	require.True(t, IsMetadataLine("# Original URL: https://example.com"))
	require.False(t, IsMetadataLine("# Original title"))
	require.False(t, IsMetadataLine("Body text"))
}
