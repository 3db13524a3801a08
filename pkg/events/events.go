// Package events is the typed notification bus every component
// publishes to: vector mutations, partition lifecycle, index build
// progress, save/load completion, and search outcomes. The database
// facade forwards or relabels these and uses a fixed subset to
// invalidate the search cache.
package events

import "sync"

// Type names an event variant. Payload fields vary by Type the way a
// tagged union's variant determines its fields; handlers that care
// about a specific variant read the fields documented next to its
// constant.
type Type string

const (
	// VectorAdd payload: {"partition": string, "id": string}.
	VectorAdd Type = "vector:add"
	// VectorDelete payload: {"partition": string, "id": string}.
	VectorDelete Type = "vector:delete"
	// VectorUpdate payload: {"partition": string, "id": string, "dimension_changed": bool}.
	VectorUpdate Type = "vector:update"
	// VectorsBulkAdd payload: {"partitions": []string, "count": int}.
	VectorsBulkAdd Type = "vectors:bulk_add"

	// PartitionCreated payload: {"partition": string}.
	PartitionCreated Type = "partition:created"
	// PartitionLoaded payload: {"partition": string}.
	PartitionLoaded Type = "partition:loaded"
	// PartitionUnloaded payload: {"partition": string}.
	PartitionUnloaded Type = "partition:unloaded"
	// PartitionActivated payload: {"partition": string, "previous": string}.
	PartitionActivated Type = "partition:activated"
	// PartitionError payload: {"partition": string, "err": error}.
	PartitionError Type = "partition:error"

	// IndexProgress payload: {"partition": string, "fraction": float64}.
	IndexProgress Type = "index:progress"
	// IndexComplete payload: {"partition": string}.
	IndexComplete Type = "index:complete"
	// IndexError payload: {"partition": string, "err": error}.
	IndexError Type = "index:error"

	// SaveComplete payload: {"partitions_saved": int}.
	SaveComplete Type = "save:complete"
	// LoadComplete payload: {"partitions": int}.
	LoadComplete Type = "load:complete"

	// SearchComplete payload: {"k": int, "results": int, "duration_ms": int64}.
	SearchComplete Type = "search:complete"
	// SearchError payload: {"err": error}.
	SearchError Type = "search:error"

	// Warn payload: {"message": string, "err": error (optional)}.
	Warn Type = "warn"
)

// AllTypes subscribes a handler to every event, regardless of Type.
const AllTypes Type = "*"

// CacheInvalidatingTypes is the fixed set of events that the database
// facade uses to drop the coordinator's search cache: anything that
// changes which ids are visible to a query.
var CacheInvalidatingTypes = []Type{
	VectorAdd, VectorDelete, VectorsBulkAdd,
	PartitionCreated, PartitionLoaded, PartitionUnloaded,
}

// Event is one notification: a Type plus a loose payload, mirroring the
// source's event-name-to-payload map.
type Event struct {
	Type    Type
	Payload map[string]any
}

// Handler processes one published Event.
type Handler func(Event)

// Bus is a publish/subscribe hub. Handlers run synchronously, in
// registration order, on the goroutine that calls Emit.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h for t, or for every event when t is AllTypes.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t == AllTypes {
		b.all = append(b.all, h)
		return
	}
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit runs every handler subscribed to e.Type, then every
// AllTypes-subscribed handler.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	all := append([]Handler(nil), b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	for _, h := range all {
		h(e)
	}
}
