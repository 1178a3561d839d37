package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBusKeepsAtMostRingSize(t *testing.T) {
	bus := NewStreamBus(0)

	for i := 0; i < 30; i++ {
		bus.Emit(UpdateActionProgress, map[string]interface{}{"n": i})
	}

	events := bus.Snapshot()
	require.Len(t, events, 20)
	// Oldest ten evicted.
	assert.Equal(t, 10, events[0].Context["n"])
	assert.Equal(t, 29, events[19].Context["n"])
}

func TestStreamBusTimestampsMonotonic(t *testing.T) {
	bus := NewStreamBus(20)
	for i := 0; i < 20; i++ {
		bus.Emit(UpdateActionLookup, nil)
	}

	events := bus.Snapshot()
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestStreamBusHead(t *testing.T) {
	bus := NewStreamBus(20)
	for i := 0; i < 5; i++ {
		bus.Emit(UpdateActionProgress, map[string]interface{}{"n": i})
	}

	head := bus.Head(3)
	require.Len(t, head, 3)
	assert.Equal(t, 2, head[0].Context["n"])
	assert.Equal(t, 4, head[2].Context["n"])

	assert.Len(t, bus.Head(50), 5)
}

func TestStreamBusConcurrentEmit(t *testing.T) {
	bus := NewStreamBus(20)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				bus.Emit(UpdateActionProgress, map[string]interface{}{"g": fmt.Sprintf("%d", g)})
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.Equal(t, 20, bus.Len())
}
