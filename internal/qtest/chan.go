package qtest

import (
	"testing"
	"time"
)

// ScheduleTimeout is how long the "Soon" helpers wait
// for another goroutine to be scheduled and make progress.
const ScheduleTimeout = 2 * time.Second

// notSendingWindow is how long NotSending watches a channel.
const notSendingWindow = 20 * time.Millisecond

// ReceiveSoon returns the next value from ch,
// failing the test if none arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ScheduleTimeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("value not sent within %s", ScheduleTimeout)
	}
}

// IsSending asserts that ch is ready to receive from right now.
// It is mostly used with channels that signal by closing.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	default:
		t.Fatal("channel was not ready to receive")
	}
}

// NotSending asserts that nothing is received from ch
// during a short observation window.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(notSendingWindow)
	defer timer.Stop()

	select {
	case <-ch:
		t.Fatal("channel unexpectedly received a value")
	case <-timer.C:
	}
}
