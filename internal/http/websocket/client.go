package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type socketClient struct {
	id     *uuid.UUID
	socket *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	return client.socket.WriteJSON(message)
}

// Read runs the read loop for this client, emitting each received
// message on the provided channel with the origin stamped. The loop only
// returns on connection or unmarshalling failure; the caller is
// responsible for deregistering the client afterwards.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var received SocketMessage
		if err := client.socket.ReadJSON(&received); err != nil {
			return err
		}

		received.Origin = client.id
		receiveCh <- &received
	}
}

func (client *socketClient) Close() {
	client.socket.Close()
}
