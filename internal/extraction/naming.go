package extraction

import (
	"fmt"
	"strings"
)

// languageCodes normalises the three-letter and long-form language tags
// seen in stream metadata down to the two-letter codes used in artifact
// filenames. Unrecognised tags are kept verbatim.
var languageCodes = map[string]string{
	"eng": "en", "english": "en",
	"fre": "fr", "fra": "fr", "french": "fr",
	"ger": "de", "deu": "de", "german": "de",
	"spa": "es", "spanish": "es",
	"ita": "it", "italian": "it",
	"dut": "nl", "nld": "nl", "dutch": "nl",
	"por": "pt", "portuguese": "pt",
	"rus": "ru", "russian": "ru",
	"jpn": "ja", "japanese": "ja",
	"chi": "zh", "zho": "zh", "chinese": "zh",
	"kor": "ko", "korean": "ko",
	"ara": "ar", "arabic": "ar",
	"pol": "pl", "polish": "pl",
	"swe": "sv", "swedish": "sv",
	"nor": "no", "norwegian": "no",
	"dan": "da", "danish": "da",
	"fin": "fi", "finnish": "fi",
	"tur": "tr", "turkish": "tr",
	"heb": "he", "hebrew": "he",
	"hin": "hi", "hindi": "hi",
	"cze": "cs", "ces": "cs", "czech": "cs",
	"gre": "el", "ell": "el", "greek": "el",
	"hun": "hu", "hungarian": "hu",
	"tha": "th", "thai": "th",
	"vie": "vi", "vietnamese": "vi",
	"ukr": "uk", "ukrainian": "uk",
	"rum": "ro", "ron": "ro", "romanian": "ro",
}

// subtitleExtensions chooses the artifact extension from the subtitle
// codec family. Formats without a sensible standalone container fall back
// to SRT since the fallback export path converts to it anyway.
var subtitleExtensions = map[string]string{
	"subrip":            "srt",
	"srt":               "srt",
	"ass":               "ass",
	"ssa":               "ssa",
	"webvtt":            "vtt",
	"mov_text":          "srt",
	"hdmv_pgs_subtitle": "sup",
	"pgs":               "sup",
	"dvd_subtitle":      "sub",
	"dvdsub":            "sub",
}

// streamExtensions chooses the artifact extension for raw stream exports
// per codec. Codecs without a conventional elementary container are
// wrapped in matroska, which accepts anything the copy codec emits.
var streamExtensions = map[string]string{
	"aac":  "aac",
	"mp3":  "mp3",
	"ac3":  "ac3",
	"eac3": "eac3",
	"flac": "flac",
	"opus": "opus",
}

func normalizeLanguage(tag string) string {
	lowered := strings.ToLower(strings.TrimSpace(tag))
	if lowered == "" {
		return ""
	}
	if code, ok := languageCodes[lowered]; ok {
		return code
	}
	return lowered
}

// subtitleArtifactName derives the deterministic output filename for a
// subtitle export: source stem, normalised language code, optional forced
// marker, codec-family extension.
func subtitleArtifactName(stem string, language string, forced bool, codec string) string {
	parts := []string{stem}
	if code := normalizeLanguage(language); code != "" && code != "unknown" {
		parts = append(parts, code)
	}
	if forced {
		parts = append(parts, "forced")
	}
	parts = append(parts, subtitleExtension(codec))
	return strings.Join(parts, ".")
}

func subtitleExtension(codec string) string {
	if ext, ok := subtitleExtensions[strings.ToLower(codec)]; ok {
		return ext
	}
	return "srt"
}

func streamArtifactName(stem string, index int, codec string) string {
	ext := "mkv"
	if e, ok := streamExtensions[strings.ToLower(codec)]; ok {
		ext = e
	}
	return fmt.Sprintf("%s.stream-%d.%s", stem, index, ext)
}
