package willys

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamDeliversInOrderWithOneTerminal(t *testing.T) {
	stream := newLoginStream()

	stream.log("first")
	stream.collect("userSign")
	stream.done(&LoginResult{Ok: true, Identity: "id-1"})
	// late terminals are ignored, the stream already closed
	stream.fail(errors.New("too late"))

	var kinds []EventKind
	terminal := 0
	for ev := range stream.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventDone || ev.Kind == EventError {
			terminal++
		}
	}

	require.Equal(t, []EventKind{EventLog, EventCollect, EventDone}, kinds)
	require.Equal(t, 1, terminal)
}

func TestStreamTerminalLandsWithFullBufferAndNoConsumer(t *testing.T) {
	stream := newLoginStream()

	// overflow the buffer the way a long collect poll does once the
	// consumer has gone away
	for i := 0; i < 100; i++ {
		stream.log("tick %d", i)
	}

	finished := make(chan struct{})
	go func() {
		stream.done(&LoginResult{Ok: true, Identity: "id-1"})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second * 2):
		t.Fatal("terminal event blocked behind a full buffer")
	}

	var last Event
	for ev := range stream.Events() {
		last = ev
	}
	require.Equal(t, EventDone, last.Kind)
	require.True(t, last.Result.Ok)
}

func TestStreamWaitReturnsTerminalError(t *testing.T) {
	stream := newLoginStream()
	stream.log("progress")
	stream.fail(errors.New("bankid status FAILED"))

	result, err := stream.Wait()
	require.Nil(t, result)
	require.ErrorContains(t, err, "bankid status FAILED")
}

func TestStreamWaitReturnsResult(t *testing.T) {
	stream := newLoginStream()
	stream.qr([]byte{0x89, 0x50})
	stream.done(&LoginResult{Ok: true, Identity: "id-1"})

	result, err := stream.Wait()
	require.NoError(t, err)
	require.True(t, result.Ok)
	require.Equal(t, "id-1", result.Identity)
}
