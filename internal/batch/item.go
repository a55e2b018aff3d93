package batch

import (
	"fmt"

	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/google/uuid"
)

type (
	ItemState int

	// Item is one file moving through the batch pipeline. Settled items
	// (COMPLETED, FAILED or TIMED_OUT) never change state again; a settled
	// item's Result or Message is the final word on it.
	Item struct {
		ID      uuid.UUID
		File    *media.File
		State   ItemState
		Result  *metadata.VideoMetadata
		Message string
	}
)

const (
	WAITING ItemState = iota
	PROCESSING
	COMPLETED
	FAILED
	TIMED_OUT
)

func (state ItemState) String() string {
	switch state {
	case WAITING:
		return "WAITING"
	case PROCESSING:
		return "PROCESSING"
	case COMPLETED:
		return "COMPLETED"
	case FAILED:
		return "FAILED"
	case TIMED_OUT:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Settled reports whether the item has reached a terminal state.
func (item *Item) Settled() bool {
	return item.State == COMPLETED || item.State == FAILED || item.State == TIMED_OUT
}

func (item *Item) String() string {
	return fmt.Sprintf("Item{id=%s file=%s state=%s}", item.ID, item.File.Name(), item.State)
}
