package metadata

// Unknown is the sentinel value recorded for any field the active backend
// could not determine. Consumers render it verbatim; fields are never
// absent, so display code does not need to branch on presence.
const Unknown = "unknown"

// DefaultFrameRate is assumed for duration->frame conversions when no
// video stream was detected (the file may be audio only).
const DefaultFrameRate = "25"

type CodecType string

const (
	CodecTypeVideo    CodecType = "video"
	CodecTypeAudio    CodecType = "audio"
	CodecTypeSubtitle CodecType = "subtitle"
)

type (
	// FormatInfo is the container-level summary of a probed file. All
	// values are strings; numeric fields hold their decimal rendering or
	// the Unknown sentinel.
	FormatInfo struct {
		Filename    string `json:"filename"`
		Container   string `json:"container"`
		Duration    string `json:"duration"`
		Size        string `json:"size"`
		BitRate     string `json:"bit_rate"`
		FrameRate   string `json:"frame_rate"`
		MovieTimeMs string `json:"movietimems"`
		MovieFrames string `json:"movieframes"`
	}

	// StreamDescriptor is implemented by the three closed stream variants
	// below. The order streams appear in VideoMetadata.Streams mirrors the
	// backend's own enumeration order and doubles as the default
	// display/extraction index.
	StreamDescriptor interface {
		StreamIndex() int
		Type() CodecType
		Codec() string
	}

	VideoStream struct {
		Index       int    `json:"index"`
		CodecName   string `json:"codec_name"`
		Profile     string `json:"profile"`
		Width       string `json:"width"`
		Height      string `json:"height"`
		FrameRate   string `json:"frame_rate"`
		PixelFormat string `json:"pixel_format"`
		BitRate     string `json:"bit_rate"`
		FrameCount  string `json:"frame_count"`
	}

	AudioStream struct {
		Index         int    `json:"index"`
		CodecName     string `json:"codec_name"`
		Profile       string `json:"profile"`
		SampleRate    string `json:"sample_rate"`
		Channels      string `json:"channels"`
		ChannelLayout string `json:"channel_layout"`
		BitRate       string `json:"bit_rate"`
	}

	SubtitleStream struct {
		Index     int    `json:"index"`
		CodecName string `json:"codec_name"`
		Language  string `json:"language"`
		Forced    bool   `json:"forced"`
		Default   bool   `json:"default"`
	}

	// VideoMetadata is the normalised output of both backends; format
	// summary plus the ordered stream listing.
	VideoMetadata struct {
		Format  FormatInfo
		Streams []StreamDescriptor
	}
)

func (s VideoStream) StreamIndex() int { return s.Index }
func (s VideoStream) Type() CodecType  { return CodecTypeVideo }
func (s VideoStream) Codec() string    { return s.CodecName }

func (s AudioStream) StreamIndex() int { return s.Index }
func (s AudioStream) Type() CodecType  { return CodecTypeAudio }
func (s AudioStream) Codec() string    { return s.CodecName }

func (s SubtitleStream) StreamIndex() int { return s.Index }
func (s SubtitleStream) Type() CodecType  { return CodecTypeSubtitle }
func (s SubtitleStream) Codec() string    { return s.CodecName }

// NewVideoStream returns a VideoStream with every field initialised to
// the Unknown sentinel.
func NewVideoStream(index int) VideoStream {
	return VideoStream{
		Index:       index,
		CodecName:   Unknown,
		Profile:     Unknown,
		Width:       Unknown,
		Height:      Unknown,
		FrameRate:   Unknown,
		PixelFormat: Unknown,
		BitRate:     Unknown,
		FrameCount:  Unknown,
	}
}

func NewAudioStream(index int) AudioStream {
	return AudioStream{
		Index:         index,
		CodecName:     Unknown,
		Profile:       Unknown,
		SampleRate:    Unknown,
		Channels:      Unknown,
		ChannelLayout: Unknown,
		BitRate:       Unknown,
	}
}

func NewSubtitleStream(index int) SubtitleStream {
	return SubtitleStream{
		Index:     index,
		CodecName: Unknown,
		Language:  Unknown,
	}
}

// NewFormatInfo returns a FormatInfo with every field initialised to the
// Unknown sentinel except the filename provided.
func NewFormatInfo(filename string) FormatInfo {
	return FormatInfo{
		Filename:    filename,
		Container:   Unknown,
		Duration:    Unknown,
		Size:        Unknown,
		BitRate:     Unknown,
		FrameRate:   Unknown,
		MovieTimeMs: Unknown,
		MovieFrames: Unknown,
	}
}

// FirstVideo returns the first video stream in enumeration order, or nil.
// Only the first video (and audio) stream is promoted into the top-level
// summary; every enumerated stream remains individually exportable.
func (m *VideoMetadata) FirstVideo() *VideoStream {
	for _, s := range m.Streams {
		if v, ok := s.(VideoStream); ok {
			return &v
		}
	}
	return nil
}

func (m *VideoMetadata) FirstAudio() *AudioStream {
	for _, s := range m.Streams {
		if a, ok := s.(AudioStream); ok {
			return &a
		}
	}
	return nil
}

func (m *VideoMetadata) Subtitles() []SubtitleStream {
	subs := make([]SubtitleStream, 0)
	for _, s := range m.Streams {
		if sub, ok := s.(SubtitleStream); ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Stream returns the descriptor with the given backend enumeration index,
// or nil when no such stream was enumerated.
func (m *VideoMetadata) Stream(index int) StreamDescriptor {
	for _, s := range m.Streams {
		if s.StreamIndex() == index {
			return s
		}
	}
	return nil
}
