package media

import (
	"encoding/json"
	"time"
)

// Event types published by a FeedLoop.
const (
	EventState  = "state"
	EventFrame  = "frame"
	EventSkip   = "skip"
	EventRender = "render"
)

// An Event is one observable step of a feed loop, published as JSON on the
// loop's Flow.
type Event struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	State string    `json:"state,omitempty"`

	// Frame events.
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`

	// Frame and render events.
	Index int `json:"index,omitempty"`
	Size  int `json:"size,omitempty"`

	// Render events.
	PTS time.Duration `json:"pts,omitempty"`

	// State events for Terminated and Error.
	Reason string `json:"reason,omitempty"`
}

func (l *FeedLoop) publish(e Event) {
	if l.Events == nil {
		return
	}
	e.Time = time.Now()
	p, err := json.Marshal(e)
	if err != nil {
		log.Warn("Dropping %s event: %v", e.Type, err)
		return
	}
	l.Events.Write(p)
}
