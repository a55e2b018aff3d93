package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubtitleArtifactName(t *testing.T) {
	tests := []struct {
		summary  string
		stem     string
		language string
		forced   bool
		codec    string
		expected string
	}{
		{"three letter language code", "Movie.2021", "eng", false, "subrip", "Movie.2021.en.srt"},
		{"long form language", "Movie.2021", "French", false, "ass", "Movie.2021.fr.ass"},
		{"forced marker", "Movie.2021", "eng", true, "subrip", "Movie.2021.en.forced.srt"},
		{"unrecognised tag kept verbatim", "Movie", "tlh", false, "subrip", "Movie.tlh.srt"},
		{"missing language omitted", "Movie", "", false, "subrip", "Movie.srt"},
		{"unknown sentinel omitted", "Movie", "unknown", false, "subrip", "Movie.srt"},
		{"picture subtitles", "Movie", "jpn", false, "hdmv_pgs_subtitle", "Movie.ja.sup"},
		{"embedded box text converts to srt", "Movie", "spa", false, "mov_text", "Movie.es.srt"},
		{"unrecognised codec defaults to srt", "Movie", "ger", false, "mystery", "Movie.de.srt"},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.expected, subtitleArtifactName(test.stem, test.language, test.forced, test.codec))
		})
	}
}

func TestStreamArtifactName(t *testing.T) {
	assert.Equal(t, "Movie.stream-1.aac", streamArtifactName("Movie", 1, "aac"))
	assert.Equal(t, "Movie.stream-0.mkv", streamArtifactName("Movie", 0, "h264"))
	assert.Equal(t, "Movie.stream-2.flac", streamArtifactName("Movie", 2, "FLAC"))
	assert.Equal(t, "Movie.stream-3.mkv", streamArtifactName("Movie", 3, ""))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", normalizeLanguage("eng"))
	assert.Equal(t, "en", normalizeLanguage("English"))
	assert.Equal(t, "zh", normalizeLanguage("zho"))
	assert.Equal(t, "pt", normalizeLanguage(" POR "))
	assert.Equal(t, "xx", normalizeLanguage("xx"))
	assert.Equal(t, "", normalizeLanguage(""))
}
