package event

import (
	"time"

	"github.com/viant/stepflow/internal/clock"
)

// Context identifies where an event originated.
type Context struct {
	RunID     string `json:"runID"`
	Sequence  string `json:"sequence"`
	TaskIndex int    `json:"taskIndex"`
	EventType string `json:"eventType"`
}

// Event wraps a typed payload with its origin.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
