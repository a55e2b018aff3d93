package api

import (
	"github.com/calders/mediascope/internal/api/batches"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/http/websocket"
	"github.com/google/uuid"
)

const (
	TITLE_BATCH_UPDATE     = "BATCH_UPDATE"
	TITLE_ITEM_UPDATE      = "ITEM_UPDATE"
	TITLE_EXTRACT_PROGRESS = "EXTRACT_PROGRESS"
	TITLE_DELIVER_PROGRESS = "DELIVER_PROGRESS"
	TITLE_DELIVER_COMPLETE = "DELIVER_COMPLETE"
)

type (
	ItemUpdate struct {
		ItemID uuid.UUID        `json:"item_id"`
		Item   *batches.ItemDto `json:"item"`
	}

	// broadcaster bridges the internal event bus to the activity socket,
	// pushing state changes to every connected client.
	broadcaster struct {
		socketHub    *websocket.SocketHub
		batchService batches.BatchService
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, batchService batches.BatchService) *broadcaster {
	return &broadcaster{socketHub: socketHub, batchService: batchService}
}

// registerWith subscribes the broadcaster to every event the pipeline
// emits. Handlers run asynchronously; a slow socket client must never
// stall the pipeline.
func (caster *broadcaster) registerWith(bus event.EventHandler) {
	bus.RegisterAsyncHandlerFunction(event.BATCH_ITEM_UPDATE, caster.handleItemUpdate)
	bus.RegisterAsyncHandlerFunction(event.BATCH_UPDATE, caster.handleBatchUpdate)
	bus.RegisterAsyncHandlerFunction(event.EXTRACT_PROGRESS, caster.relay(TITLE_EXTRACT_PROGRESS))
	bus.RegisterAsyncHandlerFunction(event.DELIVER_PROGRESS, caster.relay(TITLE_DELIVER_PROGRESS))
	bus.RegisterAsyncHandlerFunction(event.DELIVER_COMPLETE, caster.relay(TITLE_DELIVER_COMPLETE))
}

func (caster *broadcaster) handleItemUpdate(_ event.Event, payload event.Payload) {
	itemID, ok := payload.(uuid.UUID)
	if !ok {
		return
	}

	update := ItemUpdate{ItemID: itemID, Item: batches.NewDto(caster.batchService.GetItem(itemID))}
	caster.broadcast(TITLE_ITEM_UPDATE, map[string]interface{}{"arguments": update})
}

func (caster *broadcaster) handleBatchUpdate(_ event.Event, _ event.Payload) {
	caster.broadcast(TITLE_BATCH_UPDATE, map[string]interface{}{
		"progress": caster.batchService.Progress(),
	})
}

func (caster *broadcaster) relay(title string) event.HandlerMethod {
	return func(_ event.Event, payload event.Payload) {
		caster.broadcast(title, map[string]interface{}{"arguments": payload})
	}
}

func (caster *broadcaster) broadcast(title string, body map[string]interface{}) {
	caster.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  body,
		Type:  websocket.Update,
	})
}
