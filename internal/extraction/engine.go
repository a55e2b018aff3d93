package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/calders/mediascope/internal/boxmeta"
	"github.com/calders/mediascope/internal/diagnostic"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/calders/mediascope/internal/rangesel"
	"github.com/calders/mediascope/pkg/logger"
)

var engineLogger = logger.Get("Extraction")

type Config struct {
	// FfmpegBinPath locates the transcoder binary used by the text backend
	// and the export machinery.
	FfmpegBinPath  string `yaml:"ffmpeg_bin" env:"MEDIASCOPE_FFMPEG_BIN" env-default:"ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_bin" env:"MEDIASCOPE_FFPROBE_BIN" env-default:"ffprobe"`

	// ScratchDirPath overrides the temp-dir default for the backend's
	// shared working filesystem.
	ScratchDirPath string `yaml:"scratch_dir" env:"MEDIASCOPE_SCRATCH_DIR" env-default:""`

	// ExecutionTimeout bounds a backend write plus the subsequent
	// probe/export execution as one unit.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"MEDIASCOPE_EXECUTION_TIMEOUT" env-default:"2m"`

	WriteAttempts   int           `yaml:"write_attempts" env:"MEDIASCOPE_WRITE_ATTEMPTS" env-default:"3"`
	WriteBackoff    time.Duration `yaml:"write_backoff" env:"MEDIASCOPE_WRITE_BACKOFF" env-default:"250ms"`
	CleanupAttempts int           `yaml:"cleanup_attempts" env:"MEDIASCOPE_CLEANUP_ATTEMPTS" env-default:"3"`
	CleanupBackoff  time.Duration `yaml:"cleanup_backoff" env:"MEDIASCOPE_CLEANUP_BACKOFF" env-default:"100ms"`
}

// SubtitleHints carry the stream descriptor fields that drive subtitle
// artifact naming; the caller already holds them from the probe result.
type SubtitleHints struct {
	Language string
	Forced   bool
	Codec    string
}

// StreamHints carry the codec of the stream being exported, used to pick
// the artifact container.
type StreamHints struct {
	Codec string
}

// mediaBackend is the operation contract both analysis backends satisfy.
// The engine picks one per file based on its container family; callers
// never learn which one served them.
type mediaBackend interface {
	Probe(ctx context.Context, file *media.File) (*metadata.VideoMetadata, error)
	ExportSubtitle(ctx context.Context, file *media.File, streamIndex int, hints SubtitleHints) (*media.Artifact, error)
	ExportStream(ctx context.Context, file *media.File, streamIndex int, streamType metadata.CodecType, hints StreamHints) (*media.Artifact, error)
}

// errDelegateToText is returned by a backend whose operation can only be
// served by the transcoding machinery. The engine routes such operations
// to the text backend; the error never escapes the engine.
var errDelegateToText = errors.New("operation requires the diagnostic text backend")

// Engine owns the one low-level backend instance and dispatches each
// operation to the box or diagnostic-text path based on the file's
// extension. The backend's working files are scratch space, reset before
// and after every operation; callers obtain mutual exclusion elsewhere
// and never touch the backend directly.
type Engine struct {
	config   Config
	selector *rangesel.Selector
	backend  Backend
	logs     LogSubscriber
	event    event.EventDispatcher
	reencode reencodeFunc

	workspace *workspace
	loaded    bool
}

func New(config Config, selector *rangesel.Selector, eventBus event.EventDispatcher) (*Engine, error) {
	root := config.ScratchDirPath
	if root == "" {
		root = filepath.Join(os.TempDir(), "mediascope")
	}
	ws, err := newWorkspace(root)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine workspace: %w", err)
	}

	backend := newTextBackend(config.FfmpegBinPath, ws)
	return &Engine{
		config:    config,
		selector:  selector,
		backend:   backend,
		logs:      backend,
		event:     eventBus,
		reencode:  transcoderReencode(config.FfmpegBinPath, config.FfprobeBinPath),
		workspace: ws,
	}, nil
}

// Load initialises the backend; a failure here is fatal for every
// operation that would follow, so callers surface it immediately.
func (engine *Engine) Load(ctx context.Context) error {
	if err := engine.backend.Load(ctx); err != nil {
		return err
	}
	engine.loaded = true
	return nil
}

func (engine *Engine) Ready() bool { return engine.loaded }

// MethodFor names the analysis method the engine will use for a file
// with the given extension; used in progress labels.
func (engine *Engine) MethodFor(ext string) string {
	if media.FamilyForExtension(ext) == media.FamilyBox {
		return "box structure"
	}
	return "diagnostic text"
}

// backendFor selects the analysis backend for a file. Box containers are
// parsed structurally; everything else goes through the text backend.
func (engine *Engine) backendFor(file *media.File) mediaBackend {
	if media.FamilyForExtension(file.Extension()) == media.FamilyBox {
		return &boxPipeline{engine}
	}
	return &textPipeline{engine}
}

// Probe analyses the file and returns its normalised metadata.
func (engine *Engine) Probe(ctx context.Context, file *media.File) (*metadata.VideoMetadata, error) {
	engine.workspace.Cleanup(engine.config.CleanupAttempts, engine.config.CleanupBackoff)
	defer engine.workspace.Cleanup(engine.config.CleanupAttempts, engine.config.CleanupBackoff)

	engine.progress("Probing %s via %s", file.Name(), engine.MethodFor(file.Extension()))
	return engine.backendFor(file).Probe(ctx, file)
}

// ExportSubtitle extracts the subtitle stream at the given index as a
// named artifact. Backends without a transcoding capability delegate the
// operation to the text backend explicitly.
func (engine *Engine) ExportSubtitle(ctx context.Context, file *media.File, streamIndex int, hints SubtitleHints) (*media.Artifact, error) {
	artifact, err := engine.backendFor(file).ExportSubtitle(ctx, file, streamIndex, hints)
	if errors.Is(err, errDelegateToText) {
		return (&textPipeline{engine}).ExportSubtitle(ctx, file, streamIndex, hints)
	}
	return artifact, err
}

// ExportStream extracts the raw stream at the given index, delegating to
// the text backend when the selected backend cannot transcode.
func (engine *Engine) ExportStream(ctx context.Context, file *media.File, streamIndex int, streamType metadata.CodecType, hints StreamHints) (*media.Artifact, error) {
	artifact, err := engine.backendFor(file).ExportStream(ctx, file, streamIndex, streamType, hints)
	if errors.Is(err, errDelegateToText) {
		return (&textPipeline{engine}).ExportStream(ctx, file, streamIndex, streamType, hints)
	}
	return artifact, err
}

// boxPipeline parses container box structure directly from the selected
// byte windows. It carries no transcoder, so both export operations
// delegate to the text pipeline.
type boxPipeline struct {
	engine *Engine
}

func (box *boxPipeline) Probe(_ context.Context, file *media.File) (*metadata.VideoMetadata, error) {
	ranges := box.engine.selector.SelectRanges(file, rangesel.OpProbe, media.FamilyBox)

	windows := make([]readWindow, 0, len(ranges))
	for _, r := range ranges {
		data, err := file.ReadRange(r.Start, r.Length)
		if err != nil {
			return nil, fmt.Errorf("failed to read byte range of %s: %w", file.Name(), err)
		}
		windows = append(windows, readWindow{start: r.Start, data: data})
	}

	info, err := parseBoxStructure(newWindowReader(file.Size(), windows))
	if err != nil {
		return nil, err
	}

	result := boxmeta.Map(info)
	result.Format.Filename = file.Name()
	result.Format.Container = file.Extension()
	result.Format.Size = fmt.Sprintf("%d", file.Size())
	return result, nil
}

func (box *boxPipeline) ExportSubtitle(context.Context, *media.File, int, SubtitleHints) (*media.Artifact, error) {
	return nil, errDelegateToText
}

func (box *boxPipeline) ExportStream(context.Context, *media.File, int, metadata.CodecType, StreamHints) (*media.Artifact, error) {
	return nil, errDelegateToText
}

// textPipeline drives the low-level backend: byte ranges are written to
// scratch space, the transcoder binary is executed against them and its
// diagnostic output or artifact files read back.
type textPipeline struct {
	engine *Engine
}

func (text *textPipeline) Probe(ctx context.Context, file *media.File) (*metadata.VideoMetadata, error) {
	engine := text.engine
	ctx, cancel := context.WithTimeout(ctx, engine.config.ExecutionTimeout)
	defer cancel()

	ranges := engine.selector.SelectRanges(file, rangesel.OpProbe, media.FamilyForExtension(file.Extension()))
	inputName := file.Name()
	if err := engine.writeRanges(ctx, file, inputName, ranges); err != nil {
		return nil, err
	}

	lines, unsubscribe := engine.logs.SubscribeLogs()
	defer unsubscribe()

	// A probe gives the backend no output target, so it exits non-zero by
	// design; the run only failed if it produced no diagnostic text.
	execErr := engine.backend.Execute(ctx, []string{"-hide_banner", "-i", inputName})
	if errors.Is(execErr, context.DeadlineExceeded) {
		return nil, &TimeoutError{Operation: "probe", Limit: engine.config.ExecutionTimeout}
	}
	unsubscribe()

	var output strings.Builder
	for line := range lines {
		output.WriteString(line)
		output.WriteByte('\n')
	}
	if output.Len() == 0 {
		if execErr != nil {
			return nil, fmt.Errorf("probe produced no diagnostic output: %w", execErr)
		}
		return nil, fmt.Errorf("probe produced no diagnostic output")
	}

	engine.progress("Parsing diagnostic output for %s", file.Name())
	result, err := diagnostic.Parse(output.String())
	if err != nil {
		return nil, err
	}

	result.Format.Filename = file.Name()
	result.Format.Container = file.Extension()
	result.Format.Size = fmt.Sprintf("%d", file.Size())
	return result, nil
}

// ExportSubtitle attempts the track's native format first; on failure the
// extraction is re-run once forcing SRT conversion. The fallback output
// is named for the SRT muxer regardless of the native codec family, since
// the re-run emits SRT-coded packets.
func (text *textPipeline) ExportSubtitle(ctx context.Context, file *media.File, streamIndex int, hints SubtitleHints) (*media.Artifact, error) {
	engine := text.engine
	nativeName := subtitleArtifactName(file.Stem(), hints.Language, hints.Forced, hints.Codec)
	srtName := subtitleArtifactName(file.Stem(), hints.Language, hints.Forced, "srt")

	return engine.export(ctx, file, rangesel.OpExportSubtitle, func(ctx context.Context, inputName string) (string, error) {
		engine.progress("Exporting subtitle stream %d of %s", streamIndex, file.Name())
		nativeErr := engine.backend.Execute(ctx, []string{
			"-hide_banner", "-y", "-i", inputName,
			"-map", fmt.Sprintf("0:%d", streamIndex),
			"-c:s", "copy",
			nativeName,
		})
		if nativeErr == nil {
			return nativeName, nil
		}
		if errors.Is(nativeErr, context.DeadlineExceeded) {
			return "", nativeErr
		}

		engine.progress("Native subtitle export failed; converting stream %d to SRT", streamIndex)
		fallbackErr := engine.backend.Execute(ctx, []string{
			"-hide_banner", "-y", "-i", inputName,
			"-map", fmt.Sprintf("0:%d", streamIndex),
			"-c:s", "srt",
			srtName,
		})
		if fallbackErr != nil {
			if errors.Is(fallbackErr, context.DeadlineExceeded) {
				return "", fallbackErr
			}
			return "", &FallbackExhaustedError{Operation: "subtitle export", NativeError: nativeErr, FallbackError: fallbackErr}
		}
		return srtName, nil
	})
}

// ExportStream attempts a stream copy first since it is lossless and
// fast; on failure the engine re-encodes exactly once with fixed
// parameters.
func (text *textPipeline) ExportStream(ctx context.Context, file *media.File, streamIndex int, streamType metadata.CodecType, hints StreamHints) (*media.Artifact, error) {
	engine := text.engine
	name := streamArtifactName(file.Stem(), streamIndex, hints.Codec)

	return engine.export(ctx, file, rangesel.OpExportStream, func(ctx context.Context, inputName string) (string, error) {
		engine.progress("Exporting %s stream %d of %s", streamType, streamIndex, file.Name())
		copyErr := engine.backend.Execute(ctx, []string{
			"-hide_banner", "-y", "-i", inputName,
			"-map", fmt.Sprintf("0:%d", streamIndex),
			"-c", "copy",
			name,
		})
		if copyErr == nil {
			return name, nil
		}
		if errors.Is(copyErr, context.DeadlineExceeded) {
			return "", copyErr
		}

		engine.progress("Stream copy failed; re-encoding stream %d", streamIndex)
		fallbackErr := engine.reencode(ctx, engine.workspace.Path(inputName), engine.workspace.Path(name), streamIndex, streamType)
		if fallbackErr != nil {
			if errors.Is(fallbackErr, context.DeadlineExceeded) {
				return "", fallbackErr
			}
			return "", &FallbackExhaustedError{Operation: "stream export", NativeError: copyErr, FallbackError: fallbackErr}
		}
		return name, nil
	})
}

// export runs the shared export skeleton: clean scratch space, load the
// selected byte ranges into the backend, run the operation under the
// execution deadline, read back the artifact the run reports it produced,
// clean up again.
func (engine *Engine) export(ctx context.Context, file *media.File, op rangesel.Operation, run func(ctx context.Context, inputName string) (string, error)) (*media.Artifact, error) {
	engine.workspace.Cleanup(engine.config.CleanupAttempts, engine.config.CleanupBackoff)
	defer engine.workspace.Cleanup(engine.config.CleanupAttempts, engine.config.CleanupBackoff)

	ctx, cancel := context.WithTimeout(ctx, engine.config.ExecutionTimeout)
	defer cancel()

	family := media.FamilyForExtension(file.Extension())
	ranges := engine.selector.SelectRanges(file, op, family)
	truncated := engine.selector.Truncates(file, op, family)
	if truncated {
		engine.progress("Export input for %s is a capped prefix; result may be incomplete", file.Name())
	}

	inputName := file.Name()
	if err := engine.writeRanges(ctx, file, inputName, ranges); err != nil {
		return nil, err
	}

	artifactName, err := run(ctx, inputName)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Operation: "export", Limit: engine.config.ExecutionTimeout}
		}
		return nil, err
	}

	data, err := engine.backend.ReadFile(artifactName)
	if err != nil {
		return nil, fmt.Errorf("failed to read export output %s: %w", artifactName, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("export of %s produced an empty artifact", file.Name())
	}

	artifact := media.NewArtifact(artifactName, data)
	artifact.Truncated = truncated
	engineLogger.Emit(logger.INFO, "Export of %s produced artifact %s (%d bytes)\n", file.Name(), artifactName, len(data))
	return artifact, nil
}

// writeRanges loads the selected byte ranges of the file into the
// backend's filesystem under one input name, retrying each write with
// exponential backoff before escalating.
func (engine *Engine) writeRanges(ctx context.Context, file *media.File, inputName string, ranges []rangesel.ByteRange) error {
	buf := make([]byte, 0)
	for _, r := range ranges {
		data, err := file.ReadRange(r.Start, r.Length)
		if err != nil {
			return fmt.Errorf("failed to read byte range of %s: %w", file.Name(), err)
		}
		buf = append(buf, data...)
	}

	attempts := engine.config.WriteAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := engine.config.WriteBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return &TimeoutError{Operation: "write", Limit: engine.config.ExecutionTimeout}
		}

		lastErr = engine.backend.Write(inputName, buf)
		if lastErr == nil {
			return nil
		}

		engineLogger.Emit(logger.WARNING, "Backend write of %s failed (attempt %d/%d): %v\n", inputName, attempt, attempts, lastErr)
		if attempt < attempts {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return &TimeoutError{Operation: "write", Limit: engine.config.ExecutionTimeout}
			}
		}
	}

	return &WriteError{Name: inputName, Attempts: attempts, Cause: lastErr}
}

func (engine *Engine) progress(format string, args ...any) {
	if engine.event == nil {
		return
	}
	engine.event.Dispatch(event.EXTRACT_PROGRESS, fmt.Sprintf(format, args...))
}
