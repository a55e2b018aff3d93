package extraction

import (
	"io"
	"testing"

	"github.com/calders/mediascope/internal/boxmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowReader_SparseReads(t *testing.T) {
	reader := newWindowReader(16, []readWindow{
		{start: 0, data: []byte{1, 2, 3, 4}},
		{start: 12, data: []byte{9, 9, 9, 9}},
	})

	all, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Len(t, all, 16)

	assert.Equal(t, []byte{1, 2, 3, 4}, all[:4])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, all[4:12], "gaps between windows read as zero bytes")
	assert.Equal(t, []byte{9, 9, 9, 9}, all[12:])
}

func TestWindowReader_SeekAcrossGap(t *testing.T) {
	reader := newWindowReader(100, []readWindow{
		{start: 90, data: []byte("tail-bytes")},
	})

	pos, err := reader.Seek(90, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 90, pos)

	tail, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("tail-bytes"), tail)

	pos, err = reader.Seek(-10, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 90, pos)
}

func TestWindowReader_ReadSpanningWindowBoundary(t *testing.T) {
	reader := newWindowReader(8, []readWindow{
		{start: 2, data: []byte{5, 6, 7}},
	})

	buf := make([]byte, 8)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 5, 6, 7, 0, 0, 0}, buf)

	_, err = reader.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeLanguage(t *testing.T) {
	// ISO-639-2 codes are packed as three 5-bit values offset from 0x60.
	assert.Equal(t, "eng", decodeLanguage([3]byte{'e' - 0x60, 'n' - 0x60, 'g' - 0x60}))
	assert.Equal(t, "fra", decodeLanguage([3]byte{'f' - 0x60, 'r' - 0x60, 'a' - 0x60}))
	assert.Equal(t, "", decodeLanguage([3]byte{0, 0, 0}), "all-zero field means undeclared")
	assert.Equal(t, "", decodeLanguage([3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60}), "explicit undetermined tag dropped")
}

func TestKindForHandler(t *testing.T) {
	assert.Equal(t, boxmeta.TrackKindVideo, kindForHandler([4]byte{'v', 'i', 'd', 'e'}))
	assert.Equal(t, boxmeta.TrackKindAudio, kindForHandler([4]byte{'s', 'o', 'u', 'n'}))
	assert.Equal(t, boxmeta.TrackKindText, kindForHandler([4]byte{'s', 'b', 't', 'l'}))
	assert.Equal(t, boxmeta.TrackKindText, kindForHandler([4]byte{'t', 'e', 'x', 't'}))
	assert.Equal(t, boxmeta.TrackKindUnknown, kindForHandler([4]byte{'m', 'e', 't', 'a'}))
}

func TestCodecForSampleEntry(t *testing.T) {
	assert.Equal(t, "h264", codecForSampleEntry("avc1"))
	assert.Equal(t, "hevc", codecForSampleEntry("hvc1"))
	assert.Equal(t, "aac", codecForSampleEntry("mp4a"))
	assert.Equal(t, "mov_text", codecForSampleEntry("tx3g"))
	assert.Equal(t, "xyz9", codecForSampleEntry("xyz9"), "unmapped entry types pass through")
}
