package keybinds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 5 * time.Millisecond
)

type fakeMuter struct {
	mu    sync.Mutex
	calls []bool
}

func (m *fakeMuter) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, muted)
}

func (m *fakeMuter) last() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return false, false
	}
	return m.calls[len(m.calls)-1], true
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []KeyEvent
}

func (e *fakeEmitter) Emit(code string, state KeyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, KeyEvent{Code: code, State: state})
}

// fakeRuntime mimics a real platform runtime's contract: Stop both signals
// its own teardown and closes the KeyEvent channel, which is what lets
// Engine.rxLoop's range loop return and close Engine.done.
type fakeRuntime struct {
	stopped chan struct{}
	rx      chan KeyEvent
	once    sync.Once
}

func (r *fakeRuntime) Stop() {
	r.once.Do(func() {
		close(r.stopped)
		close(r.rx)
	})
}

// withFakePlatform swaps platformStart/platformNewEmitter for the duration
// of a test and restores the originals on cleanup, since both are package
// vars the real build-tagged files assign at init. The first Start call
// gets the supplied rx channel (so the test can push events into it);
// every later Start (e.g. from SetConfig's restart) gets a fresh runtime
// and channel, matching a real platform backend spinning up anew.
func withFakePlatform(t *testing.T, rx chan KeyEvent, emitter *fakeEmitter) *fakeRuntime {
	t.Helper()
	origStart := platformStart
	origEmitter := platformNewEmitter
	first := &fakeRuntime{stopped: make(chan struct{}), rx: rx}
	used := false
	platformStart = func(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
		if !used {
			used = true
			return first, rx, nil
		}
		freshRx := make(chan KeyEvent, 4)
		return &fakeRuntime{stopped: make(chan struct{}), rx: freshRx}, freshRx, nil
	}
	platformNewEmitter = func() (Emitter, error) {
		return emitter, nil
	}
	t.Cleanup(func() {
		platformStart = origStart
		platformNewEmitter = origEmitter
	})
	return first
}

func waitForCall(t *testing.T, muter *fakeMuter, want bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := muter.last()
		return ok && got == want
	}, eventuallyTimeout, eventuallyTick)
}

func TestSelectCodeVoiceActivationNeedsNoCode(t *testing.T) {
	code, err := selectCode(VoiceActivation, "")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestSelectCodeRequiresCodeForActiveModes(t *testing.T) {
	for _, mode := range []TransmitMode{PushToTalk, PushToMute, RadioIntegration} {
		_, err := selectCode(mode, "")
		assert.Errorf(t, err, "mode %s should require a code", mode)
	}
}

func TestSelectCodeUnknownMode(t *testing.T) {
	_, err := selectCode(TransmitMode("Bogus"), "F1")
	assert.Error(t, err)
}

func TestNextMuteStatePushToTalk(t *testing.T) {
	e := &Engine{mode: PushToTalk}
	muted, changed := e.nextMuteState(KeyDown, false)
	assert.True(t, changed)
	assert.False(t, muted)

	muted, changed = e.nextMuteState(KeyUp, true)
	assert.True(t, changed)
	assert.True(t, muted)

	_, changed = e.nextMuteState(KeyDown, true)
	assert.False(t, changed, "repeated Down while already pressed should not re-fire")
}

func TestNextMuteStatePushToMute(t *testing.T) {
	e := &Engine{mode: PushToMute}
	muted, changed := e.nextMuteState(KeyDown, false)
	assert.True(t, changed)
	assert.True(t, muted)

	muted, changed = e.nextMuteState(KeyUp, true)
	assert.True(t, changed)
	assert.False(t, muted)
}

func TestEngineStartIsNoopForVoiceActivation(t *testing.T) {
	muter := &fakeMuter{}
	e, err := New(config.KeybindConfig{Mode: "VoiceActivation"}, muter, logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.Nil(t, e.runtime)

	// VoiceActivation never touches the mute gate: there is no keybind
	// runtime to drive it, so Start returns before resetInputState.
	_, ok := muter.last()
	assert.False(t, ok)
}

func TestEnginePushToTalkLifecycle(t *testing.T) {
	muter := &fakeMuter{}
	rx := make(chan KeyEvent, 4)
	withFakePlatform(t, rx, nil)

	e, err := New(config.KeybindConfig{Mode: "PushToTalk", Code: "F1"}, muter, logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	waitForCall(t, muter, true) // PushToTalk idles muted

	rx <- KeyEvent{Code: "F1", State: KeyDown}
	waitForCall(t, muter, false)

	rx <- KeyEvent{Code: "F1", State: KeyUp}
	waitForCall(t, muter, true)

	// A transition on an unregistered code is ignored.
	rx <- KeyEvent{Code: "F9", State: KeyDown}

	e.Stop()
	assert.Nil(t, e.runtime)
	got, ok := muter.last()
	require.True(t, ok)
	assert.True(t, got, "stop resets to idle default")
}

func TestEngineStartTwiceIsNoop(t *testing.T) {
	muter := &fakeMuter{}
	rx := make(chan KeyEvent, 1)
	rt := withFakePlatform(t, rx, nil)

	e, err := New(config.KeybindConfig{Mode: "PushToMute", Code: "F2"}, muter, logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	first := e.runtime
	require.NoError(t, e.Start(context.Background()))
	assert.Same(t, first, e.runtime)

	e.Stop()
	select {
	case <-rt.stopped:
	default:
		t.Fatal("expected runtime Stop to be called")
	}
}

func TestEngineRadioIntegrationForwardsToEmitter(t *testing.T) {
	muter := &fakeMuter{}
	emitter := &fakeEmitter{}
	rx := make(chan KeyEvent, 2)
	withFakePlatform(t, rx, emitter)

	e, err := New(config.KeybindConfig{Mode: "RadioIntegration", Code: "F3"}, muter, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	rx <- KeyEvent{Code: "F3", State: KeyDown}
	rx <- KeyEvent{Code: "F3", State: KeyUp}

	require.Eventually(t, func() bool {
		emitter.mu.Lock()
		defer emitter.mu.Unlock()
		return len(emitter.events) == 2
	}, eventuallyTimeout, eventuallyTick)

	e.Stop()
	// RadioIntegration never maps key transitions to mute changes; the only
	// SetMuted calls come from Start/Stop's own idle-state reset, both to
	// the same unmuted default.
	muter.mu.Lock()
	defer muter.mu.Unlock()
	for _, muted := range muter.calls {
		assert.False(t, muted)
	}
}

func TestEngineSetConfigRestartsRunningEngine(t *testing.T) {
	muter := &fakeMuter{}
	rx := make(chan KeyEvent, 1)
	withFakePlatform(t, rx, nil)

	e, err := New(config.KeybindConfig{Mode: "PushToTalk", Code: "F1"}, muter, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	first := e.runtime

	require.NoError(t, e.SetConfig(context.Background(), config.KeybindConfig{Mode: "PushToMute", Code: "F4"}))
	assert.NotSame(t, first, e.runtime)
	assert.Equal(t, PushToMute, e.mode)
	assert.Equal(t, "F4", e.code)

	e.Stop()
}
