package api

import (
	"errors"

	"github.com/calders/mediascope/internal/api/batches"
	"github.com/calders/mediascope/internal/http/websocket"
	"github.com/google/uuid"
)

// WsGateway carries the socket command handlers: clients may query batch
// state over the activity socket instead of polling the REST surface.
type WsGateway struct {
	batchService batches.BatchService
}

func NewWsGateway(batchService batches.BatchService) *WsGateway {
	return &WsGateway{batchService: batchService}
}

func (gateway *WsGateway) WsBatchIndex(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	items := gateway.batchService.GetAllItems()
	dtos := make([]*batches.ItemDto, len(items))
	for k, v := range items {
		dtos[k] = batches.NewDto(v)
	}

	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{
		"payload":  dtos,
		"progress": gateway.batchService.Progress(),
	}, websocket.Response))
	return nil
}

func (gateway *WsGateway) WsBatchDetails(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(message.Body["id"].(string))
	if err != nil {
		return errors.New("failed to validate arguments - 'id' is not a valid UUID")
	}

	item := gateway.batchService.GetItem(id)
	if item == nil {
		return errors.New("no batch item with that ID exists")
	}

	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{
		"payload": batches.NewDto(item),
	}, websocket.Response))
	return nil
}
