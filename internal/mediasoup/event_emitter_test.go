package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventEmitterOn(t *testing.T) {
	e := NewEventEmitter()

	count := 0
	e.On("score", func(v int) {
		count += v
	})

	e.Emit("score", 2)
	e.Emit("score", 3)
	require.Equal(t, 5, count)
}

func TestEventEmitterOnce(t *testing.T) {
	e := NewEventEmitter()

	count := 0
	e.Once("@success", func() {
		count++
	})

	e.Emit("@success")
	e.Emit("@success")
	require.Equal(t, 1, count)
	require.Zero(t, e.ListenerCount("@success"))
}

func TestEventEmitterOff(t *testing.T) {
	e := NewEventEmitter()

	called := false
	fn := func() { called = true }

	e.On("close", fn)
	e.Off("close", fn)
	e.Emit("close")
	require.False(t, called)
}

func TestEventEmitterRemoveAllListeners(t *testing.T) {
	e := NewEventEmitter()

	e.On("a", func() {})
	e.On("b", func() {})

	e.RemoveAllListeners("a")
	require.Zero(t, e.ListenerCount("a"))
	require.Equal(t, 1, e.ListenerCount("b"))

	e.RemoveAllListeners()
	require.Zero(t, e.ListenerCount("b"))
}

func TestEventEmitterArgAdaptation(t *testing.T) {
	e := NewEventEmitter()

	// listeners may declare fewer or more parameters than emitted
	gotEvent := ""
	e.On("notif", func(event string) {
		gotEvent = event
	})

	var gotData []byte
	e.On("notif", func(event string, data []byte, extra int) {
		gotData = data
	})

	e.Emit("notif", "running", []byte("x"))
	require.Equal(t, "running", gotEvent)
	require.Equal(t, []byte("x"), gotData)
}

func TestEventEmitterSafeEmit(t *testing.T) {
	e := NewEventEmitter()

	called := false
	e.On("died", func() {
		panic("broken listener")
	})
	e.On("died", func() {
		called = true
	})

	e.SafeEmit("died")
	require.True(t, called)
}
