package liveview

import (
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/render"
)

// Message types pushed to the browser.
const (
	TypeState = "state"
	TypeFrame = "frame"
	TypeError = "error"
)

// Command actions accepted from the browser.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionChannel = "channel"
	ActionFetch   = "fetch"
)

// Message is one server to browser message. Exactly one of State, Input and Error is set, matching
// Type.
type Message struct {
	Type  string        `json:"type"`
	State *StateView    `json:"state,omitempty"`
	Input *render.Input `json:"input,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Command is one browser to server message.
type Command struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// StateView is the JSON form of the acquisition state.
type StateView struct {
	Status              string     `json:"status"`
	Channel             string     `json:"channel"`
	RunID               string     `json:"runId,omitempty"`
	Seq                 uint64     `json:"seq"`
	InFlight            bool       `json:"inFlight"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	ReceivedAt          *time.Time `json:"receivedAt,omitempty"`
}

// NewStateView converts a state for display.
func NewStateView(s acquisition.State) StateView {
	v := StateView{
		Status:              s.Status.String(),
		Channel:             string(s.Channel),
		Seq:                 s.AppliedSeq,
		InFlight:            s.InFlight(),
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
	if s.RunID != uuid.Nil {
		v.RunID = s.RunID.String()
	}
	if s.LastError != nil {
		v.LastError = s.LastError.Error()
	}
	if s.LastFrame != nil && !s.LastFrame.ReceivedAt.IsZero() {
		t := s.LastFrame.ReceivedAt
		v.ReceivedAt = &t
	}
	return v
}
