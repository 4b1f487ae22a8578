package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// Dispatcher delivers room events to every subscriber of a class
// ARCHITECTURAL DISCOVERY: delivery is a synchronous fan-out over a snapshot of the room;
// each sink owns its own buffered writer so a slow client only ever loses its own frames
type Dispatcher struct {
	rooms  map[string]map[string]interfaces.Sink // classID -> subscriberID -> sink
	closed bool
	mu     sync.RWMutex
}

// PublishResult reports how many subscribers accepted an event
type PublishResult struct {
	Delivered int
	Dropped   int
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		rooms: make(map[string]map[string]interfaces.Sink),
	}
}

// Subscribe adds a sink to the room of a class. Subscribing an existing ID replaces its sink.
func (d *Dispatcher) Subscribe(classID, subscriberID string, sink interfaces.Sink) error {
	if classID == "" || subscriberID == "" {
		return ErrEmptyRoom
	}
	if sink == nil {
		return ErrNilSink
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	room, exists := d.rooms[classID]
	if !exists {
		room = make(map[string]interfaces.Sink)
		d.rooms[classID] = room
	}
	room[subscriberID] = sink
	return nil
}

// Unsubscribe removes a sink from a room. Unknown subscribers are ignored.
func (d *Dispatcher) Unsubscribe(classID, subscriberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[classID]
	if !exists {
		return
	}
	delete(room, subscriberID)

	// TECHNICAL DISCOVERY: empty rooms are removed so abandoned classes do not accumulate
	if len(room) == 0 {
		delete(d.rooms, classID)
	}
}

// Publish delivers an event to every subscriber of the class
func (d *Dispatcher) Publish(classID string, event types.Event) (PublishResult, error) {
	return d.publish(classID, "", event)
}

// PublishExcept delivers an event to every subscriber of the class except one
func (d *Dispatcher) PublishExcept(classID, exceptID string, event types.Event) (PublishResult, error) {
	return d.publish(classID, exceptID, event)
}

func (d *Dispatcher) publish(classID, exceptID string, event types.Event) (PublishResult, error) {
	var result PublishResult

	// Snapshot the room under the read lock; no lock is held during delivery
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return result, ErrDispatcherClosed
	}
	room := d.rooms[classID]
	targets := make([]interfaces.Sink, 0, len(room))
	for subscriberID, sink := range room {
		if subscriberID != exceptID {
			targets = append(targets, sink)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return result, nil
	}

	// FUNCTIONAL DISCOVERY: encode once, share the bytes across all subscribers
	data, err := json.Marshal(types.NewEnvelope(classID, event))
	if err != nil {
		return result, fmt.Errorf("failed to encode %s event: %w", event.EventType(), err)
	}

	for _, sink := range targets {
		if err := sink.Send(data); err != nil {
			result.Dropped++
			continue
		}
		result.Delivered++
	}

	if result.Dropped > 0 {
		log.Printf("Dropped event for slow or closed subscribers: class=%s type=%s dropped=%d delivered=%d",
			classID, event.EventType(), result.Dropped, result.Delivered)
	}
	return result, nil
}

// RoomSize returns the number of subscribers of a class
func (d *Dispatcher) RoomSize(classID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.rooms[classID])
}

// Close drops every room and rejects further subscriptions and publishes
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.rooms = make(map[string]map[string]interfaces.Sink)
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subscribers := 0
	for _, room := range d.rooms {
		subscribers += len(room)
	}
	return map[string]interface{}{
		"rooms":       len(d.rooms),
		"subscribers": subscribers,
	}
}
