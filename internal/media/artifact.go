package media

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Artifact is a produced downloadable payload: extracted subtitle text or
// raw sub-stream bytes. Artifacts are produced once per export call and
// consumed once by the delivery layer; they are not retained afterwards.
type Artifact struct {
	ID                uuid.UUID
	SuggestedFilename string
	Data              []byte

	// Truncated is set when the export had to operate on a bounded prefix
	// of the source rather than the full byte range. The backend may then
	// have failed to include every sample; this is disclosed to the
	// consumer, never silent.
	Truncated bool
}

func NewArtifact(suggestedFilename string, data []byte) *Artifact {
	return &Artifact{
		ID:                uuid.New(),
		SuggestedFilename: suggestedFilename,
		Data:              data,
	}
}

func (a *Artifact) Size() int64 { return int64(len(a.Data)) }

// Open returns a fresh reader over the artifact payload.
func (a *Artifact) Open() io.Reader { return bytes.NewReader(a.Data) }

func (a *Artifact) String() string {
	return fmt.Sprintf("Artifact{id=%s filename=%s size=%d truncated=%v}", a.ID, a.SuggestedFilename, a.Size(), a.Truncated)
}
