package rangesel_test

import (
	"bytes"
	"testing"

	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/rangesel"
	"github.com/stretchr/testify/assert"
)

const mib = int64(1 << 20)

func testConfig() rangesel.Config {
	return rangesel.Config{
		MinChunkBytes:        8 * mib,
		MaxProbeChunkBytes:   32 * mib,
		MaxBoxWindowBytes:    64 * mib,
		BoxWholeFileMaxBytes: 256 * mib,
		MaxExportBufferBytes: 0,
	}
}

func newSelector(t *testing.T, pressure float64) *rangesel.Selector {
	t.Helper()
	return rangesel.NewWithPressureFunc(testConfig(), func() float64 { return pressure })
}

func fileOfSize(name string, size int64) *media.File {
	return media.NewFile(name, size, bytes.NewReader(nil))
}

func Test_SelectRanges_NeverExceedsFileLength(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.3)

	sizes := []int64{1, 512, 8 * mib, 32*mib + 1, 300 * mib, 2048 * mib}
	extensions := []string{"mp4", "m4v", "mkv", "avi", "mp3", "flac"}
	ops := []rangesel.Operation{rangesel.OpProbe, rangesel.OpExportSubtitle, rangesel.OpExportStream}

	for _, size := range sizes {
		for _, ext := range extensions {
			for _, op := range ops {
				file := fileOfSize("input."+ext, size)
				ranges := selector.SelectRanges(file, op, media.FamilyForExtension(ext))

				assert.NotEmpty(t, ranges)
				for _, r := range ranges {
					assert.GreaterOrEqual(t, r.Start, int64(0))
					assert.LessOrEqual(t, r.Start+r.Length, size,
						"range [%d,+%d) exceeds %d byte file (%s, op %d)", r.Start, r.Length, size, ext, op)
				}
			}
		}
	}
}

func Test_SelectRanges_SmallFileIsReadWhole(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.3)

	for _, ext := range []string{"mp4", "mkv", "mp3"} {
		file := fileOfSize("small."+ext, 4*mib)
		ranges := selector.SelectRanges(file, rangesel.OpProbe, media.FamilyForExtension(ext))

		assert.Len(t, ranges, 1)
		assert.Equal(t, rangesel.ByteRange{Start: 0, Length: 4 * mib}, ranges[0])
	}
}

func Test_SelectRanges_GenericProbeIsBoundedPrefix(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.3)

	file := fileOfSize("big.mkv", 10*1024*mib)
	ranges := selector.SelectRanges(file, rangesel.OpProbe, media.FamilyGeneric)

	assert.Len(t, ranges, 1)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, 32*mib, ranges[0].Length)
}

func Test_SelectRanges_GenericProbeShrinksUnderMemoryPressure(t *testing.T) {
	t.Parallel()
	file := fileOfSize("big.mkv", 10*1024*mib)

	relaxed := newSelector(t, 0.2).SelectRanges(file, rangesel.OpProbe, media.FamilyGeneric)
	stressed := newSelector(t, 0.95).SelectRanges(file, rangesel.OpProbe, media.FamilyGeneric)

	assert.Equal(t, 32*mib, relaxed[0].Length)
	assert.Equal(t, 8*mib, stressed[0].Length)
}

func Test_SelectRanges_OversizedBoxFileUsesThreeWindows(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.3)

	size := 1024 * mib
	file := fileOfSize("big.mp4", size)
	ranges := selector.SelectRanges(file, rangesel.OpProbe, media.FamilyBox)

	assert.Len(t, ranges, 3)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, size-64*mib, ranges[2].Start)
	for _, r := range ranges {
		assert.Equal(t, 64*mib, r.Length)
	}
}

func Test_SelectRanges_BoxFileUnderThresholdIsWhole(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.3)

	file := fileOfSize("medium.mp4", 200*mib)
	ranges := selector.SelectRanges(file, rangesel.OpProbe, media.FamilyBox)

	assert.Equal(t, []rangesel.ByteRange{{Start: 0, Length: 200 * mib}}, ranges)
}

func Test_SelectRanges_ExportUsesFullFile(t *testing.T) {
	t.Parallel()
	selector := newSelector(t, 0.95)

	file := fileOfSize("big.mkv", 700*mib)
	ranges := selector.SelectRanges(file, rangesel.OpExportStream, media.FamilyGeneric)

	assert.Equal(t, []rangesel.ByteRange{{Start: 0, Length: 700 * mib}}, ranges)
	assert.False(t, selector.Truncates(file, rangesel.OpExportStream, media.FamilyGeneric))
}

func Test_SelectRanges_ExportPrefixCapIsDisclosed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxExportBufferBytes = 256 * mib
	selector := rangesel.NewWithPressureFunc(cfg, func() float64 { return 0.3 })

	file := fileOfSize("huge.avi", 1024*mib)
	ranges := selector.SelectRanges(file, rangesel.OpExportStream, media.FamilyGeneric)

	assert.Equal(t, []rangesel.ByteRange{{Start: 0, Length: 256 * mib}}, ranges)
	assert.True(t, selector.Truncates(file, rangesel.OpExportStream, media.FamilyGeneric))
}
