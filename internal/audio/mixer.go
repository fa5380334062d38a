package audio

import (
	"sync"

	"github.com/vatsim-vacs/vacs-client/internal/audio/ring"
)

// SourceID identifies one AudioSource registered on the Mixer.
type SourceID uint64

// AudioSource is a mixer-registered contributor: a decoded remote call, or a
// synthesised tone. MixInto must add its contribution to buf (never
// overwrite), tolerate partial fills, and never block or allocate — it
// runs on the playback callback thread.
type AudioSource interface {
	MixInto(buf []float32)
	Start()
	Stop()
	Restart()
	SetVolume(volume float32)
}

type mixerCommandKind int

const (
	mixerAdd mixerCommandKind = iota
	mixerRemove
	mixerStart
	mixerStop
	mixerRestart
	mixerSetVolume
	mixerSetDeafen
)

type mixerCommand struct {
	kind   mixerCommandKind
	id     SourceID
	source AudioSource
	volume float32
	deafen bool
}

// Mixer maps SourceID to AudioSource. Mix, the consumer side, is touched
// only by the playback callback thread. Add/Remove/Start/Stop/Restart/
// SetVolume/SetDeafen are the producer side, called from the dispatcher's
// main loop, per-call watcher goroutines, and timer callbacks alike; mu
// serializes those so the underlying ring's single-producer contract
// still holds even though it has several logical callers.
type Mixer struct {
	sources map[SourceID]AudioSource
	cmds    *ring.Ring[mixerCommand]
	deafen  bool

	mu     sync.Mutex
	nextID SourceID
}

// NewMixer constructs an empty Mixer with room for MixerCommandRingCapacity
// queued mutations.
func NewMixer() *Mixer {
	return &Mixer{
		sources: make(map[SourceID]AudioSource),
		cmds:    ring.New[mixerCommand](MixerCommandRingCapacity),
	}
}

// Add queues a source for registration, started immediately once the
// command is applied. Returns the SourceID the caller can use to remove or
// mutate it later.
func (m *Mixer) Add(source AudioSource) SourceID {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	m.enqueue(mixerCommand{kind: mixerAdd, id: id, source: source})
	return id
}

// Remove queues removal of the given source.
func (m *Mixer) Remove(id SourceID) {
	m.enqueue(mixerCommand{kind: mixerRemove, id: id})
}

// Start, Stop, Restart queue the corresponding lifecycle transition for id.
func (m *Mixer) Start(id SourceID)   { m.enqueue(mixerCommand{kind: mixerStart, id: id}) }
func (m *Mixer) Stop(id SourceID)    { m.enqueue(mixerCommand{kind: mixerStop, id: id}) }
func (m *Mixer) Restart(id SourceID) { m.enqueue(mixerCommand{kind: mixerRestart, id: id}) }

// SetVolume queues a volume change for id.
func (m *Mixer) SetVolume(id SourceID, volume float32) {
	m.enqueue(mixerCommand{kind: mixerSetVolume, id: id, volume: volume})
}

// SetDeafen queues a deafen-mode toggle. While deafened, mixed output is
// forced to equilibrium without tearing down any source.
func (m *Mixer) SetDeafen(deafen bool) {
	m.enqueue(mixerCommand{kind: mixerSetDeafen, deafen: deafen})
}

// enqueue serializes pushes from Mixer's several producer callers: the
// underlying ring is single-producer, so concurrent TryPush calls would
// race on its head pointer without this lock.
func (m *Mixer) enqueue(cmd mixerCommand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cmds.TryPush(cmd) {
		// The command ring filling up means callers are issuing mutations
		// far faster than the playback callback drains them; dropping here
		// is the least-bad option since the callback must never block.
		return
	}
}

// Mix initialises buf to equilibrium (silence, i.e. zero for PCM), drains
// up to MixerCommandsPerCallback queued commands, then additively mixes
// every active source into buf. Must only be called from the playback
// callback thread.
func (m *Mixer) Mix(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}

	for i := 0; i < MixerCommandsPerCallback; i++ {
		cmd, ok := m.cmds.TryPop()
		if !ok {
			break
		}
		m.apply(cmd)
	}

	if m.deafen {
		return
	}

	for _, src := range m.sources {
		src.MixInto(buf)
	}
}

func (m *Mixer) apply(cmd mixerCommand) {
	switch cmd.kind {
	case mixerAdd:
		m.sources[cmd.id] = cmd.source
		cmd.source.Start()
	case mixerRemove:
		if src, ok := m.sources[cmd.id]; ok {
			src.Stop()
			delete(m.sources, cmd.id)
		}
	case mixerStart:
		if src, ok := m.sources[cmd.id]; ok {
			src.Start()
		}
	case mixerStop:
		if src, ok := m.sources[cmd.id]; ok {
			src.Stop()
		}
	case mixerRestart:
		if src, ok := m.sources[cmd.id]; ok {
			src.Restart()
		}
	case mixerSetVolume:
		if src, ok := m.sources[cmd.id]; ok {
			src.SetVolume(cmd.volume)
		}
	case mixerSetDeafen:
		m.deafen = cmd.deafen
	}
}
