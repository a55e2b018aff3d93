package extraction

import (
	"context"
	"fmt"
	"os"

	"github.com/calders/mediascope/internal/metadata"
	"github.com/calders/mediascope/pkg/logger"
	"github.com/floostack/transcoder/ffmpeg"
)

var reencodeLogger = logger.Get("Reencode")

// reencodeFunc performs the single re-encode fallback for a stream export
// whose copy attempt failed. Injectable so tests can observe fallback
// invocations without a real transcoder binary.
type reencodeFunc func(ctx context.Context, inputPath string, outputPath string, streamIndex int, kind metadata.CodecType) error

// transcoderReencode re-encodes through the transcoder wrapper with fixed
// parameters: constant quality H.264 for video, fixed bitrate AAC for
// audio. The parameters are deliberately not configurable; the fallback
// exists to salvage un-copyable streams, not to offer an encoding matrix.
func transcoderReencode(ffmpegBin string, ffprobeBin string) reencodeFunc {
	return func(ctx context.Context, inputPath string, outputPath string, streamIndex int, kind metadata.CodecType) error {
		config := &ffmpeg.Config{
			FfmpegBinPath:   ffmpegBin,
			FfprobeBinPath:  ffprobeBin,
			ProgressEnabled: true,
		}

		overwrite := true
		format := "matroska"
		opts := ffmpeg.Options{
			OutputFormat: &format,
			Overwrite:    &overwrite,
			ExtraArgs: map[string]interface{}{
				"-map": fmt.Sprintf("0:%d", streamIndex),
			},
		}

		switch kind {
		case metadata.CodecTypeVideo:
			videoCodec := "libx264"
			crf := uint32(23)
			skipAudio := true
			opts.VideoCodec = &videoCodec
			opts.Crf = &crf
			opts.SkipAudio = &skipAudio
		case metadata.CodecTypeAudio:
			audioCodec := "aac"
			skipVideo := true
			opts.AudioCodec = &audioCodec
			opts.SkipVideo = &skipVideo
			opts.ExtraArgs["-b:a"] = "192k"
		default:
			return fmt.Errorf("no re-encode fallback for %s streams", kind)
		}

		progress, err := ffmpeg.New(config).
			Input(inputPath).
			Output(outputPath).
			WithOptions(opts).
			Start(opts)
		if err != nil {
			return fmt.Errorf("failed to start fallback re-encode: %w", err)
		}

		for report := range progress {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reencodeLogger.Emit(logger.VERBOSE, "Fallback re-encode progress: %v\n", report)
		}

		// The progress channel closing does not distinguish success from an
		// encoder abort, so the output's existence is the success signal.
		if stat, err := os.Stat(outputPath); err != nil || stat.Size() == 0 {
			return fmt.Errorf("fallback re-encode produced no output")
		}
		return nil
	}
}
