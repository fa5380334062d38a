package keybinds

import "context"

// stubRuntime is the fallback runtime for platforms/display servers with no
// global-capture backend (Linux X11, Linux with no recognized display
// server). It starts successfully but never delivers an event.
type stubRuntime struct{}

func (stubRuntime) Stop() {}

func startStubRuntime(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
	return stubRuntime{}, make(chan KeyEvent), nil
}

// noopEmitter discards every Emit call. Used wherever the platform has no
// API for synthetic global input injection.
type noopEmitter struct{}

func (noopEmitter) Emit(code string, state KeyState) {}

func newNoopEmitter() (Emitter, error) {
	return noopEmitter{}, nil
}
