package stepflow

import (
	"time"

	"github.com/viant/stepflow/service/dao/criteria"
	"github.com/viant/stepflow/service/dao/store"
)

// RunInfo is the journal record of one run.
type RunInfo struct {
	ID          string     `json:"id" yaml:"id"`
	Sequence    string     `json:"sequence" yaml:"sequence"`
	State       RunState   `json:"state" yaml:"state"`
	StartedAt   time.Time  `json:"startedAt" yaml:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	Index       int        `json:"index" yaml:"index"`
	Repeats     int        `json:"repeats" yaml:"repeats"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewMemoryJournal returns an in-memory journal. Its List accepts "State" and
// "Sequence" parameters.
func NewMemoryJournal() *store.MemoryStore[string, RunInfo] {
	return store.NewMemoryStore[string, RunInfo](
		func(info *RunInfo) string { return info.ID },
		func(info *RunInfo) criteria.Attributes {
			return func(name string) (string, bool) {
				switch name {
				case "State":
					return string(info.State), true
				case "Sequence":
					return info.Sequence, true
				}
				return "", false
			}
		})
}

// EventType names a run lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "runStarted"
	EventTaskStarted  EventType = "taskStarted"
	EventTaskRepeated EventType = "taskRepeated"
	EventRunCompleted EventType = "runCompleted"
	EventRunAborted   EventType = "runAborted"
)

// Lifecycle is the payload of run events.
type Lifecycle struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"runID"`
	Sequence string    `json:"sequence"`
	Index    int       `json:"index"`
	Repeat   int       `json:"repeat"`
	Error    string    `json:"error,omitempty"`
}
