package acquisition

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	Idle Status = iota
	Starting
	Running
	Stopping
)

// Status is the run status of an acquisition loop.
type Status int

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is everything the acquisition loop knows about its run. It is a plain value: Transition
// returns a new State and never modifies the one it was given.
type State struct {
	Status    Status
	Channel   spectrum.Channel
	LastFrame *spectrum.Frame // Frame on display, nil until the first successful start
	RunID     uuid.UUID       // Identifies the current run, uuid.Nil while Idle

	IssuedSeq  uint64 // Last sequence number handed out
	AppliedSeq uint64 // Sequence number of LastFrame
	PendingSeq uint64 // Sequence number of the request in flight, 0 when none

	ConsecutiveFailures int
	LastError           error
}

// InFlight reports whether a start or fetch request is outstanding.
func (s State) InFlight() bool {
	return s.PendingSeq != 0
}

// Clone returns a copy of the state that shares nothing mutable with s.
func (s State) Clone() State {
	if s.LastFrame != nil {
		f := s.LastFrame.Clone()
		s.LastFrame = &f
	}
	return s
}

const (
	Unchanged Outcome = iota
	Applied           // A frame replaced LastFrame
	Discarded         // A late or stale result was thrown away
	Dropped           // A fetch was not issued because another one is in flight
	Ignored           // The event does not apply to the current status
	Issued            // A new request sequence number was handed out
	Changed           // The state changed without a new frame
)

// Outcome tells what a transition did with its event.
type Outcome int

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Applied:
		return "applied"
	case Discarded:
		return "discarded"
	case Dropped:
		return "dropped"
	case Ignored:
		return "ignored"
	case Issued:
		return "issued"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StateViolation is returned when an operation is requested in a status that does not allow it.
type StateViolation struct {
	Op     string
	Status Status
}

func (e *StateViolation) Error() string {
	return fmt.Sprintf("acquisition: %s is not allowed while %s", e.Op, e.Status)
}

// IsStateViolation reports whether err is, or wraps, a StateViolation.
func IsStateViolation(err error) bool {
	var sv *StateViolation
	return errors.As(err, &sv)
}

// Event is an input to Transition.
type Event interface {
	event() string
}

// StartRequested asks to begin a run on Channel. RunID identifies the run for its ticks.
type StartRequested struct {
	Channel spectrum.Channel
	RunID   uuid.UUID
}

// StartSucceeded carries the first frame returned by the collector.
type StartSucceeded struct {
	Seq   uint64
	Frame spectrum.Frame
}

// StartFailed reports that the collector refused or failed to start.
type StartFailed struct {
	Seq uint64
	Err error
}

// FetchRequested is raised by a poll tick, or by a manual refresh when Manual is set.
type FetchRequested struct {
	RunID  uuid.UUID
	Manual bool
}

// FetchSucceeded carries a frame returned by a fetch.
type FetchSucceeded struct {
	Seq   uint64
	Frame spectrum.Frame
}

// FetchFailed reports a failed fetch.
type FetchFailed struct {
	Seq uint64
	Err error
}

// StopRequested asks to end the current run.
type StopRequested struct{}

// StopCompleted reports that the collector stop call returned. Err is informational.
type StopCompleted struct {
	Err error
}

// ChannelSelected selects the channel for the next run.
type ChannelSelected struct {
	Channel spectrum.Channel
}

func (StartRequested) event() string  { return "start requested" }
func (StartSucceeded) event() string  { return "start succeeded" }
func (StartFailed) event() string     { return "start failed" }
func (FetchRequested) event() string  { return "fetch requested" }
func (FetchSucceeded) event() string  { return "fetch succeeded" }
func (FetchFailed) event() string     { return "fetch failed" }
func (StopRequested) event() string   { return "stop requested" }
func (StopCompleted) event() string   { return "stop completed" }
func (ChannelSelected) event() string { return "channel selected" }

// Transition is the acquisition reducer: it computes the state that follows s once e happened.
// It has no side effects; the caller performs the requests an Issued outcome asks for.
func Transition(s State, e Event) (State, Outcome, error) {
	switch e := e.(type) {
	case StartRequested:
		if s.Status != Idle {
			return s, Unchanged, &StateViolation{Op: "start", Status: s.Status}
		}
		if s.Channel != e.Channel {
			s.LastFrame = nil
		}
		s.Status = Starting
		s.Channel = e.Channel
		s.RunID = e.RunID
		s.ConsecutiveFailures = 0
		s.LastError = nil
		s = issue(s)
		return s, Issued, nil

	case StartSucceeded:
		if s.Status != Starting || e.Seq != s.PendingSeq {
			return s, Discarded, nil
		}
		s.Status = Running
		s.PendingSeq = 0
		return apply(s, e.Seq, e.Frame), Applied, nil

	case StartFailed:
		if s.Status != Starting || e.Seq != s.PendingSeq {
			return s, Discarded, nil
		}
		s.Status = Idle
		s.PendingSeq = 0
		s.RunID = uuid.Nil
		s.LastError = e.Err
		return s, Changed, nil

	case FetchRequested:
		if s.Status != Running {
			if e.Manual {
				return s, Unchanged, &StateViolation{Op: "fetch", Status: s.Status}
			}
			return s, Ignored, nil
		}
		if !e.Manual && e.RunID != s.RunID {
			return s, Ignored, nil
		}
		if s.InFlight() {
			return s, Dropped, nil
		}
		return issue(s), Issued, nil

	case FetchSucceeded:
		s = settle(s, e.Seq)
		if s.Status != Running || e.Frame.Channel != s.Channel || e.Seq <= s.AppliedSeq {
			return s, Discarded, nil
		}
		return apply(s, e.Seq, e.Frame), Applied, nil

	case FetchFailed:
		s = settle(s, e.Seq)
		if s.Status != Running || e.Seq <= s.AppliedSeq {
			return s, Discarded, nil
		}
		s.ConsecutiveFailures++
		s.LastError = e.Err
		return s, Changed, nil

	case StopRequested:
		if s.Status != Starting && s.Status != Running {
			return s, Ignored, nil
		}
		s.Status = Stopping
		s.PendingSeq = 0
		s.RunID = uuid.Nil
		return s, Changed, nil

	case StopCompleted:
		if s.Status != Stopping {
			return s, Ignored, nil
		}
		s.Status = Idle
		if e.Err != nil {
			s.LastError = e.Err
		}
		return s, Changed, nil

	case ChannelSelected:
		if s.Status != Idle {
			return s, Unchanged, &StateViolation{Op: "channel change", Status: s.Status}
		}
		if s.Channel == e.Channel {
			return s, Unchanged, nil
		}
		s.Channel = e.Channel
		s.LastFrame = nil
		return s, Changed, nil

	default:
		return s, Unchanged, fmt.Errorf("acquisition: unknown event %T", e)
	}
}

func issue(s State) State {
	s.IssuedSeq++
	s.PendingSeq = s.IssuedSeq
	return s
}

// settle clears the in-flight marker when seq answers the outstanding request.
func settle(s State, seq uint64) State {
	if s.PendingSeq == seq {
		s.PendingSeq = 0
	}
	return s
}

func apply(s State, seq uint64, f spectrum.Frame) State {
	f.Seq = seq
	s.LastFrame = &f
	s.AppliedSeq = seq
	s.ConsecutiveFailures = 0
	s.LastError = nil
	return s
}
