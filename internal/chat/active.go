package chat

import "sync/atomic"

// ActiveRef holds the conversation a surface currently shows. Event handlers
// read it when an event arrives, not when they were registered.
type ActiveRef struct {
	v atomic.Value
}

func (r *ActiveRef) Set(conversationID string) { r.v.Store(conversationID) }

func (r *ActiveRef) Get() string {
	id, _ := r.v.Load().(string)
	return id
}

// Is reports whether conversationID is the one currently shown.
func (r *ActiveRef) Is(conversationID string) bool {
	return conversationID != "" && r.Get() == conversationID
}
