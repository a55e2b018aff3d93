package diagnostic_test

import (
	"strings"
	"testing"

	"github.com/calders/mediascope/internal/diagnostic"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiagnostic = `Input #0, matroska,webm, from 'sample.mkv':
  Metadata:
    encoder         : libebml v1.3.0
  Duration: 00:01:30.50, start: 0.000000, bitrate: 4818 kb/s
  Stream #0:0(und): Video: h264 (High), yuv420p(tv, bt709), 1920x1080 [SAR 1:1 DAR 16:9], 24 fps, 24 tbr, 1k tbn (default)
  Stream #0:1(eng): Audio: aac (LC), 48000 Hz, stereo, fltp
    Metadata:
      BPS             : 320000
  Stream #0:2(eng): Subtitle: subrip (default)
  Stream #0:3(fre): Subtitle: subrip (forced)
`

func Test_Parse_DurationAndFrameDerivation(t *testing.T) {
	t.Parallel()
	result, err := diagnostic.Parse(sampleDiagnostic)
	require.Nil(t, err)

	assert.Equal(t, "90", result.Format.Duration)
	assert.Equal(t, "90500", result.Format.MovieTimeMs)
	assert.Equal(t, "2172", result.Format.MovieFrames)
	assert.Equal(t, "24", result.Format.FrameRate)
	assert.Equal(t, "4818000", result.Format.BitRate)
}

func Test_Parse_StreamEnumeration(t *testing.T) {
	t.Parallel()
	result, err := diagnostic.Parse(sampleDiagnostic)
	require.Nil(t, err)
	require.Len(t, result.Streams, 4)

	video := result.FirstVideo()
	require.NotNil(t, video)
	assert.Equal(t, 0, video.Index)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, "High", video.Profile)
	assert.Equal(t, "1920", video.Width)
	assert.Equal(t, "1080", video.Height)
	assert.Equal(t, "yuv420p", video.PixelFormat)
	assert.Equal(t, "2172", video.FrameCount)

	audio := result.FirstAudio()
	require.NotNil(t, audio)
	assert.Equal(t, "aac", audio.CodecName)
	assert.Equal(t, "48000", audio.SampleRate)
	assert.Equal(t, "2", audio.Channels)
	assert.Equal(t, "stereo", audio.ChannelLayout)
	// Recovered from the per-stream BPS field, not the header line.
	assert.Equal(t, "320000", audio.BitRate)

	subs := result.Subtitles()
	require.Len(t, subs, 2)
	assert.Equal(t, "eng", subs[0].Language)
	assert.True(t, subs[0].Default)
	assert.False(t, subs[0].Forced)
	assert.Equal(t, "fre", subs[1].Language)
	assert.True(t, subs[1].Forced)
}

func Test_Parse_AudioOnlyFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	text := strings.Join([]string{
		"Input #0, mp3, from 'track.mp3':",
		"  Duration: 00:03:20.00, start: 0.000000, bitrate: 320 kb/s",
		"  Stream #0:0: Audio: mp3, 44100 Hz, stereo, fltp, 320 kb/s",
	}, "\n")

	result, err := diagnostic.Parse(text)
	require.Nil(t, err)

	assert.Nil(t, result.FirstVideo())
	assert.Equal(t, metadata.DefaultFrameRate, result.Format.FrameRate)
	assert.Equal(t, "200", result.Format.Duration)
	// 200s * 25fps default
	assert.Equal(t, "5000", result.Format.MovieFrames)
}

func Test_Parse_IsIdempotent(t *testing.T) {
	t.Parallel()
	first, err := diagnostic.Parse(sampleDiagnostic)
	require.Nil(t, err)
	second, err := diagnostic.Parse(sampleDiagnostic)
	require.Nil(t, err)

	assert.Equal(t, first, second)
}

func Test_Parse_NeverFailsWithStreamMarkerPresent(t *testing.T) {
	t.Parallel()
	// Deliberately sparse; every extractor must tolerate absence.
	result, err := diagnostic.Parse("  Stream #0:0: Video: mystery\n")
	require.Nil(t, err)

	video := result.FirstVideo()
	require.NotNil(t, video)
	assert.Equal(t, "mystery", video.CodecName)
	assert.Equal(t, metadata.Unknown, video.Width)
	assert.Equal(t, metadata.Unknown, result.Format.Duration)
}

func Test_Parse_ClassifiesFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		kind diagnostic.ParseErrorKind
	}{
		{"corrupted", "nonsense\nInvalid data found when processing input\n", diagnostic.KindCorruptedInput},
		{"missing moov", "mp4 @ 0x1234 moov atom not found\n", diagnostic.KindCorruptedInput},
		{"decoder", "Decoder not found for codec vvc1\n", diagnostic.KindUnsupportedCodec},
		{"empty", "", diagnostic.KindNoStreams},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := diagnostic.Parse(test.text)
			require.NotNil(t, err)

			parseErr, ok := err.(*diagnostic.ParseError)
			require.True(t, ok, "expected *ParseError, got %T", err)
			assert.Equal(t, test.kind, parseErr.Kind)
			assert.NotEmpty(t, parseErr.UserFacingMessage())
		})
	}
}
