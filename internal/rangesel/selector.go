package rangesel

import (
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/pkg/logger"
	"github.com/shirou/gopsutil/v3/mem"
)

var log = logger.Get("RangeSel")

// Operation enumerates the pipeline operations a byte range can be
// selected for; probing needs only header/metadata atoms whereas exports
// need every sample belonging to the target stream.
type Operation int

const (
	OpProbe Operation = iota
	OpExportSubtitle
	OpExportStream
)

// ByteRange is a contiguous [Start, Start+Length) window of a file.
type ByteRange struct {
	Start  int64
	Length int64
}

type Config struct {
	// MinChunkBytes is the floor the adaptive chunk budget shrinks to
	// under heap pressure.
	MinChunkBytes int64 `yaml:"min_chunk_bytes" env:"RANGESEL_MIN_CHUNK_BYTES" env-default:"8388608"`

	// MaxProbeChunkBytes bounds the prefix read when probing generic
	// containers (metadata atoms are assumed to precede sample data).
	MaxProbeChunkBytes int64 `yaml:"max_probe_chunk_bytes" env:"RANGESEL_MAX_PROBE_CHUNK_BYTES" env-default:"33554432"`

	// MaxBoxWindowBytes bounds each of the head/middle/tail windows used
	// when probing an oversized box container.
	MaxBoxWindowBytes int64 `yaml:"max_box_window_bytes" env:"RANGESEL_MAX_BOX_WINDOW_BYTES" env-default:"67108864"`

	// BoxWholeFileMaxBytes is the size up to which a box container is
	// probed from the whole file rather than windowed.
	BoxWholeFileMaxBytes int64 `yaml:"box_whole_file_max_bytes" env:"RANGESEL_BOX_WHOLE_FILE_MAX_BYTES" env-default:"268435456"`

	// MaxExportBufferBytes caps the prefix used when a full-file export
	// cannot be buffered; 0 disables the cap.
	MaxExportBufferBytes int64 `yaml:"max_export_buffer_bytes" env:"RANGESEL_MAX_EXPORT_BUFFER_BYTES" env-default:"0"`
}

// MemoryPressureFunc reports used host memory as a fraction in [0,1].
type MemoryPressureFunc func() float64

// Selector decides which byte ranges of a file must be read and handed
// to a backend for a given operation, shrinking its chunk budget as
// observed host memory pressure rises.
type Selector struct {
	config   Config
	pressure MemoryPressureFunc
}

func New(config Config) *Selector {
	return &Selector{config: config, pressure: hostMemoryPressure}
}

// NewWithPressureFunc allows tests (or embedders with their own
// accounting) to supply the memory pressure observation.
func NewWithPressureFunc(config Config, pressure MemoryPressureFunc) *Selector {
	return &Selector{config: config, pressure: pressure}
}

// SelectRanges returns the byte ranges that must be loaded for the given
// operation, in read order. The returned ranges never exceed the file's
// length, and a file smaller than the intended chunk is always read whole.
func (selector *Selector) SelectRanges(file *media.File, op Operation, family media.ContainerFamily) []ByteRange {
	size := file.Size()

	if op == OpExportSubtitle || op == OpExportStream {
		return selector.exportRanges(size)
	}

	if family == media.FamilyBox {
		return selector.boxProbeRanges(size)
	}

	return selector.genericProbeRanges(size)
}

// Truncates reports whether the selection for the given operation covers
// less than the whole file; used to disclose partial exports.
func (selector *Selector) Truncates(file *media.File, op Operation, family media.ContainerFamily) bool {
	total := int64(0)
	for _, r := range selector.SelectRanges(file, op, family) {
		total += r.Length
	}
	return total < file.Size()
}

func (selector *Selector) exportRanges(size int64) []ByteRange {
	// Export needs every sample of the target stream, so the full byte
	// range is preferred. When a cap is configured and exceeded, the
	// largest affordable prefix is used instead; the backend may then
	// fail to complete the export, which is disclosed, not silent.
	if cap := selector.config.MaxExportBufferBytes; cap > 0 && size > cap {
		log.Emit(logger.WARNING, "Export of %d byte file exceeds buffer cap %d; using prefix only\n", size, cap)
		return []ByteRange{{Start: 0, Length: cap}}
	}
	return []ByteRange{{Start: 0, Length: size}}
}

func (selector *Selector) genericProbeRanges(size int64) []ByteRange {
	chunk := selector.adaptiveChunk(selector.config.MaxProbeChunkBytes)
	if size <= chunk {
		return []ByteRange{{Start: 0, Length: size}}
	}
	return []ByteRange{{Start: 0, Length: chunk}}
}

func (selector *Selector) boxProbeRanges(size int64) []ByteRange {
	if size <= selector.config.BoxWholeFileMaxBytes {
		return []ByteRange{{Start: 0, Length: size}}
	}

	// Oversized box files are probed from three windows (head, middle,
	// tail) since the moov atom may live at either end of the file.
	window := selector.adaptiveChunk(selector.config.MaxBoxWindowBytes)
	if size <= window*3 {
		return []ByteRange{{Start: 0, Length: size}}
	}

	middleStart := size/2 - window/2
	return []ByteRange{
		{Start: 0, Length: window},
		{Start: middleStart, Length: window},
		{Start: size - window, Length: window},
	}
}

// adaptiveChunk scales the given budget down towards the configured
// minimum as host memory pressure rises. Below 50% usage the full budget
// is granted; the budget decays linearly to the floor at 90% usage.
func (selector *Selector) adaptiveChunk(max int64) int64 {
	min := selector.config.MinChunkBytes
	if min > max {
		min = max
	}

	pressure := selector.pressure()
	if pressure <= 0.5 {
		return max
	}
	if pressure >= 0.9 {
		return min
	}

	scale := 1 - (pressure-0.5)/0.4
	chunk := min + int64(float64(max-min)*scale)
	return chunk
}

func hostMemoryPressure() float64 {
	stats, err := mem.VirtualMemory()
	if err != nil {
		log.Emit(logger.WARNING, "Failed to observe host memory pressure: %v\n", err)
		return 0
	}
	return stats.UsedPercent / 100
}
