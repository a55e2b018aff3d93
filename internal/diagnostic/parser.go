// Package diagnostic converts the free-text diagnostic output emitted by
// the transcoder backend while probing a file into a typed metadata
// record. Pattern extraction over log text is inherently brittle, so the
// whole concern is isolated behind Parse; callers never see the raw text.
package diagnostic

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/calders/mediascope/internal/metadata"
)

var (
	durationMatcher = regexp.MustCompile(`Duration:\s*(\d{2,}):(\d{2}):(\d{2})\.(\d{2})`)
	bitrateMatcher  = regexp.MustCompile(`bitrate:\s*(\d+)\s*kb/s`)
	streamMatcher   = regexp.MustCompile(`Stream\s+#\d+:(\d+)(?:\[0x[0-9a-fA-F]+\])?(?:\(([A-Za-z0-9\-]+)\))?:\s*(Video|Audio|Subtitle):\s*(.+)`)

	resolutionMatcher    = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)
	fpsMatcher           = regexp.MustCompile(`([\d.]+)\s*fps`)
	sampleRateMatcher    = regexp.MustCompile(`(\d+)\s*Hz`)
	inlineBitrateMatcher = regexp.MustCompile(`(\d+)\s*kb/s`)
	codecMatcher         = regexp.MustCompile(`^\s*([A-Za-z0-9_\-]+)`)
	profileMatcher       = regexp.MustCompile(`^\s*[A-Za-z0-9_\-]+\s+\(([^)/]+)\)`)
	streamBpsMatcher     = regexp.MustCompile(`BPS(?:-[a-z]+)?\s*:\s*(\d+)`)
	pixelFormatMatcher   = regexp.MustCompile(`^(yuv|yuvj|rgb|bgr|gray|nv|p0|pal)[a-z0-9]*$`)
)

// Substring markers scanned before any pattern extraction; each maps to a
// specific ParseError kind so the coordinator can surface an actionable
// message.
var (
	corruptedMarkers = []string{
		"Invalid data found when processing input",
		"moov atom not found",
		"Header missing",
		"Format detected only with low score",
	}
	decoderMarkers = []string{
		"Decoder not found",
		"No decoder for",
		"Unsupported codec",
	}
)

// Parse scans diagnostic text (newline-joined log lines) with an ordered
// set of pattern extractors, each independent and tolerant of absence,
// and assembles a metadata record. It fails (with a classified
// ParseError) only when the text contains no stream markers at all.
func Parse(text string) (*metadata.VideoMetadata, error) {
	if !strings.Contains(text, "Stream #") {
		return nil, classify(text)
	}

	lines := strings.Split(text, "\n")
	result := &metadata.VideoMetadata{
		Format:  metadata.NewFormatInfo(""),
		Streams: make([]metadata.StreamDescriptor, 0),
	}

	extractDuration(text, &result.Format)
	extractBitrate(text, &result.Format)
	extractStreams(lines, result)
	deriveFrameCounts(result)

	return result, nil
}

func classify(text string) *ParseError {
	for _, marker := range corruptedMarkers {
		if strings.Contains(text, marker) {
			return &ParseError{Kind: KindCorruptedInput, Message: marker}
		}
	}
	for _, marker := range decoderMarkers {
		if strings.Contains(text, marker) {
			return &ParseError{Kind: KindUnsupportedCodec, Message: marker}
		}
	}
	return &ParseError{Kind: KindNoStreams, Message: "no stream markers present in diagnostic output"}
}

// extractDuration converts a HH:MM:SS.cc duration into total seconds and
// total milliseconds. Frame count derivation is deferred until the frame
// rate is known.
func extractDuration(text string, format *metadata.FormatInfo) {
	groups := durationMatcher.FindStringSubmatch(text)
	if groups == nil {
		return
	}

	hours := convertToInt(groups[1])
	minutes := convertToInt(groups[2])
	seconds := convertToInt(groups[3])
	centis := convertToInt(groups[4])

	totalSeconds := hours*3600 + minutes*60 + seconds
	totalMillis := totalSeconds*1000 + centis*10

	format.Duration = strconv.Itoa(totalSeconds)
	format.MovieTimeMs = strconv.Itoa(totalMillis)
}

func extractBitrate(text string, format *metadata.FormatInfo) {
	groups := bitrateMatcher.FindStringSubmatch(text)
	if groups == nil {
		return
	}

	// The backend reports kb/s; store bits/second.
	format.BitRate = strconv.Itoa(convertToInt(groups[1]) * 1000)
}

func extractStreams(lines []string, result *metadata.VideoMetadata) {
	for i, line := range lines {
		groups := streamMatcher.FindStringSubmatch(line)
		if groups == nil {
			continue
		}

		index := convertToInt(groups[1])
		qualifier := groups[2]
		detail := groups[4]

		switch groups[3] {
		case "Video":
			result.Streams = append(result.Streams, parseVideoDetail(index, detail))
		case "Audio":
			stream := parseAudioDetail(index, detail)
			if bps := perStreamBitrate(lines, i); bps != "" {
				// The stream header line does not reliably carry the audio
				// bit rate; the per-stream BPS metadata field does.
				stream.BitRate = bps
			}
			result.Streams = append(result.Streams, stream)
		case "Subtitle":
			result.Streams = append(result.Streams, parseSubtitleDetail(index, qualifier, line, detail))
		}
	}
}

func parseVideoDetail(index int, detail string) metadata.VideoStream {
	stream := metadata.NewVideoStream(index)

	if groups := codecMatcher.FindStringSubmatch(detail); groups != nil {
		stream.CodecName = groups[1]
	}
	if groups := profileMatcher.FindStringSubmatch(detail); groups != nil {
		stream.Profile = strings.TrimSpace(groups[1])
	}
	if groups := resolutionMatcher.FindStringSubmatch(detail); groups != nil {
		stream.Width = groups[1]
		stream.Height = groups[2]
	}
	if groups := fpsMatcher.FindStringSubmatch(detail); groups != nil {
		stream.FrameRate = groups[1]
	}
	if groups := inlineBitrateMatcher.FindStringSubmatch(detail); groups != nil {
		stream.BitRate = strconv.Itoa(convertToInt(groups[1]) * 1000)
	}

	for _, field := range strings.Split(detail, ",") {
		candidate := strings.TrimSpace(field)
		// Pixel formats may carry a parenthesised qualifier which the
		// comma split can leave unbalanced, e.g. "yuv420p(tv".
		if cut := strings.Index(candidate, "("); cut >= 0 {
			candidate = candidate[:cut]
		}
		if pixelFormatMatcher.MatchString(candidate) {
			stream.PixelFormat = candidate
			break
		}
	}

	return stream
}

func parseAudioDetail(index int, detail string) metadata.AudioStream {
	stream := metadata.NewAudioStream(index)

	if groups := codecMatcher.FindStringSubmatch(detail); groups != nil {
		stream.CodecName = groups[1]
	}
	if groups := profileMatcher.FindStringSubmatch(detail); groups != nil {
		stream.Profile = strings.TrimSpace(groups[1])
	}
	if groups := sampleRateMatcher.FindStringSubmatch(detail); groups != nil {
		stream.SampleRate = groups[1]
	}

	fields := strings.Split(detail, ",")
	if len(fields) >= 3 {
		layout := strings.TrimSpace(fields[2])
		stream.ChannelLayout = layout
		if channels := channelsForLayout(layout); channels != "" {
			stream.Channels = channels
		}
	}

	return stream
}

func parseSubtitleDetail(index int, qualifier string, line string, detail string) metadata.SubtitleStream {
	stream := metadata.NewSubtitleStream(index)

	if groups := codecMatcher.FindStringSubmatch(detail); groups != nil {
		stream.CodecName = groups[1]
	}
	if qualifier != "" {
		stream.Language = qualifier
	}

	stream.Default = strings.Contains(line, "(default)")
	stream.Forced = strings.Contains(line, "(forced)")

	return stream
}

// perStreamBitrate scans the metadata lines following a stream header
// (up to the next stream header) for a BPS field, returning bits/second.
func perStreamBitrate(lines []string, streamLineIndex int) string {
	for i := streamLineIndex + 1; i < len(lines); i++ {
		if strings.Contains(lines[i], "Stream #") {
			return ""
		}
		if groups := streamBpsMatcher.FindStringSubmatch(lines[i]); groups != nil {
			return groups[1]
		}
	}
	return ""
}

// deriveFrameCounts promotes the first video stream's properties into the
// format summary and computes the total frame count from the movie time
// and the detected frame rate. Files without a video stream fall back to
// the default frame rate rather than aborting; they may be audio only.
func deriveFrameCounts(result *metadata.VideoMetadata) {
	fps := metadata.DefaultFrameRate
	if video := result.FirstVideo(); video != nil && video.FrameRate != metadata.Unknown {
		fps = video.FrameRate
	}
	result.Format.FrameRate = fps

	if result.Format.MovieTimeMs == metadata.Unknown {
		return
	}

	millis, err := strconv.ParseFloat(result.Format.MovieTimeMs, 64)
	if err != nil {
		return
	}
	rate, err := strconv.ParseFloat(fps, 64)
	if err != nil {
		return
	}

	frames := int(math.Round(millis / 1000 * rate))
	result.Format.MovieFrames = strconv.Itoa(frames)

	if video := result.FirstVideo(); video != nil && video.FrameCount == metadata.Unknown {
		video.FrameCount = result.Format.MovieFrames
		replaceStream(result, *video)
	}
}

func replaceStream(result *metadata.VideoMetadata, stream metadata.VideoStream) {
	for i, s := range result.Streams {
		if s.StreamIndex() == stream.Index && s.Type() == metadata.CodecTypeVideo {
			result.Streams[i] = stream
			return
		}
	}
}

func channelsForLayout(layout string) string {
	switch {
	case layout == "mono":
		return "1"
	case layout == "stereo":
		return "2"
	case strings.HasPrefix(layout, "2.1"):
		return "3"
	case strings.HasPrefix(layout, "quad"), strings.HasPrefix(layout, "4.0"):
		return "4"
	case strings.HasPrefix(layout, "5.0"):
		return "5"
	case strings.HasPrefix(layout, "5.1"):
		return "6"
	case strings.HasPrefix(layout, "6.1"):
		return "7"
	case strings.HasPrefix(layout, "7.1"):
		return "8"
	default:
		return ""
	}
}

// convertToInt is a helper method that accepts a string input and will
// attempt to convert it to an integer - if it fails, 0 is returned.
func convertToInt(input string) int {
	v, err := strconv.Atoi(input)
	if err != nil {
		return 0
	}

	return v
}
