package boxmeta

// ContainerInfo is the track/info object graph produced by walking a box
// structured container. It is deliberately backend-neutral: the box
// backend fills it from the parsed box tree, and tests can construct it
// synthetically.
type (
	TrackKind int

	TrackInfo struct {
		ID          uint32
		Kind        TrackKind
		Codec       string
		Timescale   uint32
		Duration    uint64
		SampleCount uint32

		// Video
		Width  uint16
		Height uint16

		// Audio
		SampleRate   uint32
		ChannelCount uint16

		// Text
		Language string
		Forced   bool
		Default  bool
	}

	ContainerInfo struct {
		Brand     string
		Timescale uint32
		Duration  uint64
		Tracks    []TrackInfo
	}
)

const (
	TrackKindUnknown TrackKind = iota
	TrackKindVideo
	TrackKindAudio
	TrackKindText
)
