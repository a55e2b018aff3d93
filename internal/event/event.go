// A collection of event names and common methods used to handle the events,
// typically redirecting the handling to a service method via the handler
// registrations below.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/calders/mediascope/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Event")

// Events emitted by the batch pipeline and the delivery path. Each silo of
// the architecture listens for a specific event which indicates an item or
// artifact is ready for processing (or that consumers should be refreshed).
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		mu           sync.Mutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	// Batch pipeline events. ITEM_UPDATE carries the uuid of the item that
	// changed; BATCH_UPDATE carries no payload and indicates the aggregate
	// progress/queue shape changed.
	BATCH_UPDATE      Event = "batch:update"
	BATCH_ITEM_UPDATE Event = "batch:item:update"

	// EXTRACT_PROGRESS carries a human-readable label describing the phase
	// the in-flight extraction is in. It is intentionally NOT blended into
	// the aggregate batch percentage.
	EXTRACT_PROGRESS Event = "extract:progress"

	DELIVER_PROGRESS Event = "deliver:update:progress"
	DELIVER_COMPLETE Event = "deliver:complete"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send Event messages on
// the channel any time a Dispatch for the provided event occurs.
// This method can be used multiple times for different events on the same channel.
//
// If the channel is BLOCKED when the event bus attempts to send the message on the handler channel,
// then the thread dispatching the event will also be BLOCKED. It is recommended to buffer the handler
// channels appropriately to avoid dispatcher-side blocking.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction takes an event type and a handler method which will be stored
// and called with the payload for the event whenever it is dispatched.
// The handle provided should be guaranteed to return quickly, else other threads calling
// Dispatch on this event bus will be blocked.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction accepts an Event and a HandlerMethod which will be stored and
// called inside of a goroutine when the event is handled.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch takes an event type and a payload and dispatches the payload to the handlers
// registered for the event type provided.
// Note that this method WILL block if a synchronous handler function is blocking, or if
// channel handlers are blocked.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := handler.validatePayload(event, payload); err != nil {
		log.Emit(logger.FATAL, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	handler.mu.Lock()
	fnHandlers := append([]handlerMethod(nil), handler.fnHandlers[event]...)
	chanHandlers := append([]HandlerChannel(nil), handler.chanHandlers[event]...)
	handler.mu.Unlock()

	for _, handle := range fnHandlers {
		if handle.async {
			go handle.handle(event, payload)
		} else {
			handle.handle(event, payload)
		}
	}

	if len(chanHandlers) > 0 {
		wrapped := HandlerEvent{event, payload}
		for _, handle := range chanHandlers {
			handle <- wrapped
		}
	}
}

// validatePayload ensures events which document a uuid payload actually
// carry one; a mismatch is a programmer error we want surfaced loudly.
func (handler *eventHandler) validatePayload(event Event, payload Payload) error {
	switch event {
	case BATCH_ITEM_UPDATE:
		if _, ok := payload.(uuid.UUID); !ok {
			return fmt.Errorf("event %v expects a uuid payload, received %v", event, reflect.TypeOf(payload))
		}
		return nil
	case EXTRACT_PROGRESS:
		if _, ok := payload.(string); !ok {
			return errors.New("extract progress events expect a string label payload")
		}
		return nil
	default:
		return nil
	}
}
