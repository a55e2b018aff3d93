package media

// ContainerFamily groups file extensions by how much of the file must be
// present before their metadata can be read, which in turn decides which
// backend probes them and how the byte range selector windows them.
type ContainerFamily int

const (
	// FamilyUnknown covers extensions no backend supports.
	FamilyUnknown ContainerFamily = iota

	// FamilyBox covers ISO base-media containers whose box structure can
	// be walked directly (mp4/m4v and friends).
	FamilyBox

	// FamilyGeneric covers every other supported container; these are
	// probed from a bounded prefix on the assumption that metadata atoms
	// precede sample data.
	FamilyGeneric
)

var boxExtensions = map[string]bool{
	"mp4": true,
	"m4v": true,
	"m4a": true,
	"mov": true,
}

var genericExtensions = map[string]bool{
	"mkv":  true,
	"webm": true,
	"avi":  true,
	"ts":   true,
	"mts":  true,
	"m2ts": true,
	"wmv":  true,
	"flv":  true,
	"mpg":  true,
	"mpeg": true,
	"3gp":  true,
	"ogv":  true,
	"mp3":  true,
	"flac": true,
	"wav":  true,
	"ogg":  true,
	"oga":  true,
	"opus": true,
	"aac":  true,
	"ac3":  true,
	"wma":  true,
}

// FamilyForExtension classifies a (lower-case, dot-free) filename
// extension. FamilyUnknown indicates the extension is unsupported and
// the file must be rejected at admission.
func FamilyForExtension(ext string) ContainerFamily {
	if boxExtensions[ext] {
		return FamilyBox
	}
	if genericExtensions[ext] {
		return FamilyGeneric
	}
	return FamilyUnknown
}

func (family ContainerFamily) String() string {
	switch family {
	case FamilyBox:
		return "box"
	case FamilyGeneric:
		return "generic"
	default:
		return "unknown"
	}
}
