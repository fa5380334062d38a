// Package keybinds implements the global-hotkey engine: one platform
// runtime streaming raw key press/release events, translated into mute
// transitions on the audio input or forwarded to a radio-integration
// emitter. Each platform backend lives in its own build-tagged file.
package keybinds

import (
	"context"
	"fmt"

	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// KeyState is the edge of a key transition.
type KeyState int

const (
	KeyUp KeyState = iota
	KeyDown
)

func (s KeyState) String() string {
	if s == KeyDown {
		return "down"
	}
	return "up"
}

// KeyEvent is one raw transition reported by a platform runtime.
type KeyEvent struct {
	Code  string
	State KeyState
}

// TransmitMode selects how key transitions map to mute state, matching
// config.KeybindConfig.Mode's wire values.
type TransmitMode string

const (
	VoiceActivation  TransmitMode = "VoiceActivation"
	PushToTalk       TransmitMode = "PushToTalk"
	PushToMute       TransmitMode = "PushToMute"
	RadioIntegration TransmitMode = "RadioIntegration"
)

// AudioMuter is the capability the engine needs from the audio engine: a
// single knob to mute/unmute the active capture stream.
type AudioMuter interface {
	SetMuted(muted bool)
}

// Emitter injects a synthetic global key event for radio-integration mode.
// The Linux backend's emitter is always a no-op: Wayland's security model
// forbids global input injection and there is no portal API for it.
type Emitter interface {
	Emit(code string, state KeyState)
}

// Runtime is one running platform listener. Stop tears down its OS thread
// and releases any native resources.
type Runtime interface {
	Stop()
}

// platformStart and platformNewEmitter are supplied by the build-tagged
// runtime file for the target OS.
var (
	platformStart      func(ctx context.Context) (Runtime, <-chan KeyEvent, error)
	platformNewEmitter func() (Emitter, error)
)

// Engine owns the lifecycle of one platform keybind runtime and the rx
// loop that turns its KeyEvents into mute transitions or emitter forwards.
type Engine struct {
	mode    TransmitMode
	code    string
	muter   AudioMuter
	emitter Emitter
	logger  logging.Logger

	runtime Runtime
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds an Engine from cfg. It does not start the runtime; call
// Start for that. Returns a *vacserr.KeybindError if cfg requires a code
// that is missing.
func New(cfg config.KeybindConfig, muter AudioMuter, logger logging.Logger) (*Engine, error) {
	mode := TransmitMode(cfg.Mode)
	code, err := selectCode(mode, cfg.Code)
	if err != nil {
		return nil, err
	}
	return &Engine{mode: mode, code: code, muter: muter, logger: logger}, nil
}

func selectCode(mode TransmitMode, code string) (string, error) {
	switch mode {
	case VoiceActivation:
		return "", nil
	case PushToTalk, PushToMute, RadioIntegration:
		if code == "" {
			return "", vacserr.NewKeybindError("select code", fmt.Errorf("mode %s requires a key code", mode))
		}
		return code, nil
	default:
		return "", vacserr.NewKeybindError("select code", fmt.Errorf("unknown transmit mode %q", mode))
	}
}

// Start launches the platform runtime and the rx loop. A VoiceActivation
// mode is a no-op: there is nothing to capture. Calling Start twice
// without an intervening Stop is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if e.runtime != nil {
		return nil
	}
	if e.mode == VoiceActivation {
		e.logger.Debugw("transmit mode is voice activation, no keybind runtime required")
		return nil
	}

	if e.mode == RadioIntegration {
		emitter, err := platformNewEmitter()
		if err != nil {
			return vacserr.NewKeybindError("start emitter", err)
		}
		e.emitter = emitter
	}

	runCtx, cancel := context.WithCancel(ctx)
	runtime, rx, err := platformStart(runCtx)
	if err != nil {
		cancel()
		return vacserr.NewKeybindError("start runtime", err)
	}

	e.runtime = runtime
	e.cancel = cancel
	e.done = make(chan struct{})
	e.resetInputState()
	go e.rxLoop(rx)
	return nil
}

// Stop tears down the running platform runtime, if any, and resets input
// state to the mode's idle default.
func (e *Engine) Stop() {
	if e.runtime == nil {
		return
	}
	e.runtime.Stop()
	e.runtime = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.done != nil {
		<-e.done
		e.done = nil
	}
	e.resetInputState()
}

// SetConfig replaces the active mode/code, restarting the runtime if one
// was running.
func (e *Engine) SetConfig(ctx context.Context, cfg config.KeybindConfig) error {
	wasRunning := e.runtime != nil
	e.Stop()

	mode := TransmitMode(cfg.Mode)
	code, err := selectCode(mode, cfg.Code)
	if err != nil {
		return err
	}
	e.mode = mode
	e.code = code

	if wasRunning {
		return e.Start(ctx)
	}
	return nil
}

// resetInputState restores the idle mute default for the active mode:
// PushToTalk starts muted, PushToMute and VoiceActivation start unmuted.
func (e *Engine) resetInputState() {
	muted := e.mode == PushToTalk
	e.logger.Debugw("resetting audio input", "muted", muted)
	e.muter.SetMuted(muted)
}

func (e *Engine) rxLoop(rx <-chan KeyEvent) {
	defer close(e.done)
	e.logger.Infow("keybind engine starting", "mode", e.mode, "code", e.code)

	pressed := false
	for ev := range rx {
		if ev.Code != e.code {
			continue
		}

		if e.mode == RadioIntegration {
			if e.emitter != nil {
				e.emitter.Emit(ev.Code, ev.State)
			}
			continue
		}

		muted, changed := e.nextMuteState(ev.State, pressed)
		if !changed {
			continue
		}
		pressed = ev.State == KeyDown
		e.logger.Debugw("setting audio input", "muted", muted)
		e.muter.SetMuted(muted)
	}
	e.logger.Infow("keybind engine loop finished")
}

// nextMuteState maps one key transition to a mute value, honoring the
// pressed latch so a key repeat (OS auto-repeat Down events) doesn't
// re-fire the transition.
func (e *Engine) nextMuteState(state KeyState, pressed bool) (muted bool, changed bool) {
	switch {
	case e.mode == PushToTalk && state == KeyDown && !pressed:
		return false, true
	case e.mode == PushToTalk && state == KeyUp && pressed:
		return true, true
	case e.mode == PushToMute && state == KeyDown && !pressed:
		return true, true
	case e.mode == PushToMute && state == KeyUp && pressed:
		return false, true
	default:
		return false, false
	}
}
