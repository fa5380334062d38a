package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constSource struct {
	value   float32
	started int
	stopped int
	restart int
	volume  float32
}

func (s *constSource) MixInto(buf []float32) {
	for i := range buf {
		buf[i] += s.value
	}
}
func (s *constSource) Start()              { s.started++ }
func (s *constSource) Stop()               { s.stopped++ }
func (s *constSource) Restart()            { s.restart++ }
func (s *constSource) SetVolume(v float32) { s.volume = v }

func TestMixerMixesAdditively(t *testing.T) {
	m := NewMixer()
	a := &constSource{value: 0.2}
	b := &constSource{value: 0.3}
	m.Add(a)
	m.Add(b)

	buf := make([]float32, 4)
	m.Mix(buf) // drains the two Add commands and starts both sources

	for _, v := range buf {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
	assert.Equal(t, 1, a.started)
	assert.Equal(t, 1, b.started)
}

func TestMixerResetsBufferEachCall(t *testing.T) {
	m := NewMixer()
	src := &constSource{value: 1}
	m.Add(src)

	buf := []float32{9, 9, 9}
	m.Mix(buf)
	for _, v := range buf {
		assert.Equal(t, float32(1), v)
	}
}

func TestMixerRemoveStopsContribution(t *testing.T) {
	m := NewMixer()
	src := &constSource{value: 1}
	id := m.Add(src)
	m.Mix(make([]float32, 1)) // apply Add

	m.Remove(id)
	buf := make([]float32, 1)
	m.Mix(buf) // apply Remove

	assert.Equal(t, float32(0), buf[0])
	assert.Equal(t, 1, src.stopped)
}

func TestMixerDeafenForcesSilenceWithoutStoppingSources(t *testing.T) {
	m := NewMixer()
	src := &constSource{value: 1}
	m.Add(src)
	m.Mix(make([]float32, 1)) // apply Add

	m.SetDeafen(true)
	buf := make([]float32, 2)
	m.Mix(buf) // apply SetDeafen, then skip source mixing entirely

	for _, v := range buf {
		assert.Equal(t, float32(0), v)
	}
	assert.Equal(t, 0, src.stopped, "deafen must not tear down the source")

	m.SetDeafen(false)
	buf2 := make([]float32, 2)
	m.Mix(buf2)
	for _, v := range buf2 {
		assert.Equal(t, float32(1), v)
	}
}

func TestMixerStartStopRestartRouteToSource(t *testing.T) {
	m := NewMixer()
	src := &constSource{}
	id := m.Add(src)
	m.Mix(make([]float32, 1)) // apply Add (Start called once already)

	m.Stop(id)
	m.Mix(make([]float32, 1))
	assert.Equal(t, 1, src.stopped)

	m.Restart(id)
	m.Mix(make([]float32, 1))
	assert.Equal(t, 1, src.restart)

	m.SetVolume(id, 0.42)
	m.Mix(make([]float32, 1))
	require.Equal(t, float32(0.42), src.volume)
}

// TestMixerAddFromConcurrentProducersAssignsUniqueIDs guards against the
// dispatcher's several producer goroutines (main loop, per-call watchers,
// timer callbacks) racing on nextID or the underlying single-producer ring.
// Run with -race to catch either.
func TestMixerAddFromConcurrentProducersAssignsUniqueIDs(t *testing.T) {
	m := NewMixer()
	const producers = 32

	ids := make([]SourceID, producers)
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = m.Add(&constSource{})
		}(i)
	}
	wg.Wait()

	seen := make(map[SourceID]bool, producers)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate SourceID %d assigned across concurrent Add calls", id)
		seen[id] = true
	}

	for i := 0; i < producers; i++ {
		m.Mix(make([]float32, 1))
	}
	assert.Equal(t, producers, len(m.sources), "every concurrently queued Add must have been applied")
}
