package willys

import (
	"fmt"
	"sync"
)

type EventKind string

const (
	// human-readable progress line
	EventLog EventKind = "log"
	// png to show the user, scan it with the bankid app
	EventQr EventKind = "qr"
	// intermediate bankid collect status, for ui feedback
	EventCollect EventKind = "collect"
	// terminal, login finished
	EventDone EventKind = "done"
	// terminal, login failed
	EventError EventKind = "error"
)

type Event struct {
	Kind     EventKind    `json:"kind"`
	Message  string       `json:"message,omitempty"`
	QrPng    []byte       `json:"qr_png,omitempty"`
	HintCode string       `json:"hint_code,omitempty"`
	Result   *LoginResult `json:"result,omitempty"`
	Err      string       `json:"error,omitempty"`
}

type LoginResult struct {
	Ok       bool             `json:"ok"`
	Identity string           `json:"identity,omitempty"`
	Artifact *SessionArtifact `json:"-"`
}

// LoginStream delivers login progress in generation order and is
// guaranteed to end with exactly one terminal event (done or error),
// after which the channel is closed. consumers must drain it.
type LoginStream struct {
	events   chan Event
	terminal sync.Once
}

func newLoginStream() *LoginStream {
	return &LoginStream{
		// buffered so a slow consumer doesn't stall the automation
		events: make(chan Event, 64),
	}
}

func (s *LoginStream) Events() <-chan Event {
	return s.events
}

// drains the stream and returns the terminal outcome.
func (s *LoginStream) Wait() (*LoginResult, error) {
	for ev := range s.events {
		switch ev.Kind {
		case EventDone:
			return ev.Result, nil
		case EventError:
			return nil, fmt.Errorf("%s", ev.Err)
		}
	}
	return nil, fmt.Errorf("login stream closed without a terminal event")
}

func (s *LoginStream) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// drop progress events rather than block the login flow
	}
}

func (s *LoginStream) log(format string, args ...any) {
	s.emit(Event{Kind: EventLog, Message: fmt.Sprintf(format, args...)})
}

func (s *LoginStream) qr(png []byte) {
	s.emit(Event{Kind: EventQr, QrPng: png})
}

func (s *LoginStream) collect(hintCode string) {
	s.emit(Event{Kind: EventCollect, HintCode: hintCode})
}

// the terminal event must land even when the consumer stopped
// draining and the buffer is full, otherwise the login goroutine
// blocks forever and its browser context leaks. buffered progress
// events are dropped oldest-first to make room, the terminal event
// itself is never dropped.
func (s *LoginStream) terminalEmit(ev Event) {
	s.terminal.Do(func() {
		for {
			select {
			case s.events <- ev:
				close(s.events)
				return
			default:
			}
			select {
			case <-s.events:
			default:
			}
		}
	})
}

func (s *LoginStream) done(result *LoginResult) {
	s.terminalEmit(Event{Kind: EventDone, Result: result})
}

func (s *LoginStream) fail(err error) {
	s.terminalEmit(Event{Kind: EventError, Err: err.Error()})
}
