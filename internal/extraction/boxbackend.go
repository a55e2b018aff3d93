package extraction

import (
	"io"
	"strings"

	"github.com/abema/go-mp4"
	"github.com/calders/mediascope/internal/boxmeta"
	"github.com/calders/mediascope/internal/diagnostic"
)

// sampleEntryCodecs maps box sample entry types to the codec names the
// rest of the pipeline expects, matching what the text backend reports
// for the same streams.
var sampleEntryCodecs = map[string]string{
	"avc1": "h264",
	"avc3": "h264",
	"hvc1": "hevc",
	"hev1": "hevc",
	"mp4v": "mpeg4",
	"vp09": "vp9",
	"av01": "av1",
	"mp4a": "aac",
	"ac-3": "ac3",
	"ec-3": "eac3",
	"Opus": "opus",
	"fLaC": "flac",
	"tx3g": "mov_text",
	"wvtt": "webvtt",
	"stpp": "ttml",
}

// parseBoxStructure walks the container's box tree and assembles the
// track/info graph. The reader only needs to serve the byte windows the
// selector chose; sample payloads in between are seeked over, never read.
func parseBoxStructure(r io.ReadSeeker) (*boxmeta.ContainerInfo, error) {
	info := &boxmeta.ContainerInfo{}
	sawMovieHeader := false

	_, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeFtyp():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if ftyp, ok := payload.(*mp4.Ftyp); ok {
				info.Brand = strings.TrimSpace(string(ftyp.MajorBrand[:]))
			}
			return nil, nil

		case mp4.BoxTypeMoov(), mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd():
			return h.Expand()

		case mp4.BoxTypeMvhd():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if mvhd, ok := payload.(*mp4.Mvhd); ok {
				sawMovieHeader = true
				info.Timescale = mvhd.Timescale
				info.Duration = mvhd.GetDuration()
			}
			return nil, nil

		case mp4.BoxTypeTrak():
			info.Tracks = append(info.Tracks, boxmeta.TrackInfo{})
			return h.Expand()

		case mp4.BoxTypeTkhd():
			if track := currentTrack(info); track != nil {
				payload, _, err := h.ReadPayload()
				if err != nil {
					return nil, err
				}
				if tkhd, ok := payload.(*mp4.Tkhd); ok {
					track.ID = tkhd.TrackID
					track.Default = tkhd.GetFlags()&0x1 != 0
				}
			}
			return nil, nil

		case mp4.BoxTypeMdhd():
			if track := currentTrack(info); track != nil {
				payload, _, err := h.ReadPayload()
				if err != nil {
					return nil, err
				}
				if mdhd, ok := payload.(*mp4.Mdhd); ok {
					track.Timescale = mdhd.Timescale
					track.Duration = mdhd.GetDuration()
					track.Language = decodeLanguage(mdhd.Language)
				}
			}
			return nil, nil

		case mp4.BoxTypeHdlr():
			if track := currentTrack(info); track != nil {
				payload, _, err := h.ReadPayload()
				if err != nil {
					return nil, err
				}
				if hdlr, ok := payload.(*mp4.Hdlr); ok {
					track.Kind = kindForHandler(hdlr.HandlerType)
				}
			}
			return nil, nil

		case mp4.BoxTypeStsz():
			if track := currentTrack(info); track != nil {
				payload, _, err := h.ReadPayload()
				if err != nil {
					return nil, err
				}
				if stsz, ok := payload.(*mp4.Stsz); ok {
					track.SampleCount = stsz.SampleCount
				}
			}
			return nil, nil
		}

		// Direct children of stsd are sample entries; the box type itself
		// identifies the codec, and supported entries carry dimensions or
		// sample format in the payload.
		if len(h.Path) >= 2 && h.Path[len(h.Path)-2] == mp4.BoxTypeStsd() {
			track := currentTrack(info)
			if track == nil {
				return nil, nil
			}

			track.Codec = codecForSampleEntry(h.BoxInfo.Type.String())
			if !h.BoxInfo.IsSupportedType() {
				return nil, nil
			}

			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, nil
			}
			switch entry := payload.(type) {
			case *mp4.VisualSampleEntry:
				track.Width = entry.Width
				track.Height = entry.Height
			case *mp4.AudioSampleEntry:
				track.ChannelCount = entry.ChannelCount
				track.SampleRate = entry.SampleRate >> 16
			}
			return nil, nil
		}

		return nil, nil
	})
	if err != nil {
		return nil, &diagnostic.ParseError{
			Kind:    diagnostic.KindCorruptedInput,
			Message: "malformed box structure: " + err.Error(),
		}
	}

	if !sawMovieHeader {
		return nil, &diagnostic.ParseError{
			Kind:    diagnostic.KindCorruptedInput,
			Message: "no movie header found in box structure",
		}
	}
	if len(info.Tracks) == 0 {
		return nil, &diagnostic.ParseError{
			Kind:    diagnostic.KindNoStreams,
			Message: "box structure contains no tracks",
		}
	}

	return info, nil
}

func currentTrack(info *boxmeta.ContainerInfo) *boxmeta.TrackInfo {
	if len(info.Tracks) == 0 {
		return nil
	}
	return &info.Tracks[len(info.Tracks)-1]
}

func kindForHandler(handlerType [4]byte) boxmeta.TrackKind {
	switch string(handlerType[:]) {
	case "vide":
		return boxmeta.TrackKindVideo
	case "soun":
		return boxmeta.TrackKindAudio
	case "text", "sbtl", "subt":
		return boxmeta.TrackKindText
	default:
		return boxmeta.TrackKindUnknown
	}
}

func codecForSampleEntry(boxType string) string {
	if codec, ok := sampleEntryCodecs[boxType]; ok {
		return codec
	}
	return strings.TrimSpace(boxType)
}

// decodeLanguage unpacks the 5-bit packed ISO-639-2 code carried by the
// media header; an all-zero field means the language is undeclared.
func decodeLanguage(packed [3]byte) string {
	if packed[0] == 0 && packed[1] == 0 && packed[2] == 0 {
		return ""
	}
	code := []byte{packed[0] + 0x60, packed[1] + 0x60, packed[2] + 0x60}
	for _, b := range code {
		if b < 'a' || b > 'z' {
			return ""
		}
	}
	if string(code) == "und" {
		return ""
	}
	return string(code)
}

// windowReader presents discontiguous byte windows of a file as a single
// io.ReadSeeker spanning the file's full logical size. Reads that land in
// a gap return zero bytes; the box walker only ever seeks across gaps
// since they hold sample data, not structure.
type windowReader struct {
	size    int64
	pos     int64
	windows []readWindow
}

type readWindow struct {
	start int64
	data  []byte
}

func newWindowReader(size int64, windows []readWindow) *windowReader {
	return &windowReader{size: size, windows: windows}
}

func (r *windowReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if remaining := r.size - r.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	for i := range p {
		p[i] = 0
	}
	for _, w := range r.windows {
		end := w.start + int64(len(w.data))
		if end <= r.pos || w.start >= r.pos+int64(len(p)) {
			continue
		}
		srcFrom := int64(0)
		dstFrom := w.start - r.pos
		if dstFrom < 0 {
			srcFrom = -dstFrom
			dstFrom = 0
		}
		copy(p[dstFrom:], w.data[srcFrom:])
	}

	r.pos += int64(len(p))
	return len(p), nil
}

func (r *windowReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.pos = offset
	case io.SeekCurrent:
		r.pos += offset
	case io.SeekEnd:
		r.pos = r.size + offset
	}
	if r.pos < 0 {
		r.pos = 0
	}
	return r.pos, nil
}
