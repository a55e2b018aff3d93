// Package boxmeta maps the structured output of the box parsing backend
// into the shared metadata record. Box-format timing is exact, so frame
// rates and counts are computed from track timescales and sample counts
// rather than wall-clock durations.
package boxmeta

import (
	"fmt"
	"strconv"

	"github.com/calders/mediascope/internal/metadata"
)

// Map converts a parsed container structure into the shared metadata
// record. It is a pure structural transform with no error branches; any
// parse failure has already been surfaced by the backend.
func Map(info *ContainerInfo) *metadata.VideoMetadata {
	result := &metadata.VideoMetadata{
		Format:  metadata.NewFormatInfo(""),
		Streams: make([]metadata.StreamDescriptor, 0, len(info.Tracks)),
	}

	if info.Brand != "" {
		result.Format.Container = info.Brand
	}
	mapMovieTiming(info, &result.Format)

	for i, track := range info.Tracks {
		switch track.Kind {
		case TrackKindVideo:
			result.Streams = append(result.Streams, mapVideoTrack(i, track))
		case TrackKindAudio:
			result.Streams = append(result.Streams, mapAudioTrack(i, track))
		case TrackKindText:
			result.Streams = append(result.Streams, mapTextTrack(i, track))
		}
	}

	promoteVideoSummary(result)
	return result
}

func mapMovieTiming(info *ContainerInfo, format *metadata.FormatInfo) {
	timescale, duration := info.Timescale, info.Duration
	if timescale == 0 {
		// Fall back to the longest track's timing when the movie header
		// carried no timescale.
		for _, track := range info.Tracks {
			if track.Timescale > 0 && seconds(track.Duration, track.Timescale) > seconds(duration, timescale) {
				timescale, duration = track.Timescale, track.Duration
			}
		}
	}
	if timescale == 0 {
		return
	}

	format.Duration = strconv.FormatUint(duration/uint64(timescale), 10)
	format.MovieTimeMs = strconv.FormatUint(duration*1000/uint64(timescale), 10)
}

func mapVideoTrack(index int, track TrackInfo) metadata.VideoStream {
	stream := metadata.NewVideoStream(index)
	stream.CodecName = codecOrUnknown(track.Codec)

	if track.Width > 0 {
		stream.Width = strconv.Itoa(int(track.Width))
	}
	if track.Height > 0 {
		stream.Height = strconv.Itoa(int(track.Height))
	}
	if track.SampleCount > 0 {
		stream.FrameCount = strconv.FormatUint(uint64(track.SampleCount), 10)
	}
	if fps, ok := trackFrameRate(track); ok {
		stream.FrameRate = fps
	}

	return stream
}

func mapAudioTrack(index int, track TrackInfo) metadata.AudioStream {
	stream := metadata.NewAudioStream(index)
	stream.CodecName = codecOrUnknown(track.Codec)

	if track.SampleRate > 0 {
		stream.SampleRate = strconv.FormatUint(uint64(track.SampleRate), 10)
	}
	if track.ChannelCount > 0 {
		stream.Channels = strconv.Itoa(int(track.ChannelCount))
	}

	return stream
}

func mapTextTrack(index int, track TrackInfo) metadata.SubtitleStream {
	stream := metadata.NewSubtitleStream(index)
	stream.CodecName = codecOrUnknown(track.Codec)
	stream.Forced = track.Forced
	stream.Default = track.Default

	if track.Language != "" && track.Language != "und" {
		stream.Language = track.Language
	}

	return stream
}

// trackFrameRate derives an exact frame rate from the track's internal
// timescale and sample count.
func trackFrameRate(track TrackInfo) (string, bool) {
	if track.Timescale == 0 || track.Duration == 0 || track.SampleCount == 0 {
		return "", false
	}

	durationSeconds := float64(track.Duration) / float64(track.Timescale)
	return fmt.Sprintf("%.2f", float64(track.SampleCount)/durationSeconds), true
}

// promoteVideoSummary lifts the first video track's frame properties into
// the format summary.
func promoteVideoSummary(result *metadata.VideoMetadata) {
	video := result.FirstVideo()
	if video == nil {
		result.Format.FrameRate = metadata.DefaultFrameRate
		return
	}

	if video.FrameRate != metadata.Unknown {
		result.Format.FrameRate = video.FrameRate
	}
	if video.FrameCount != metadata.Unknown {
		result.Format.MovieFrames = video.FrameCount
	}
}

func codecOrUnknown(codec string) string {
	if codec == "" {
		return metadata.Unknown
	}
	return codec
}

func seconds(duration uint64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return float64(duration) / float64(timescale)
}
