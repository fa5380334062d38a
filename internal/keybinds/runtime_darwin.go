//go:build darwin

package keybinds

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework ApplicationServices

#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>

extern void vacsKeyEventCallback(int keycode, int keyDown);
extern void vacsLoopReady(CFRunLoopRef loop);

static CGEventRef vacs_tap_callback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
	if (type == kCGEventKeyDown || type == kCGEventKeyUp) {
		int64_t keycode = CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
		vacsKeyEventCallback((int)keycode, type == kCGEventKeyDown ? 1 : 0);
	}
	return event;
}

static CFMachPortRef vacs_create_tap(void) {
	CGEventMask mask = CGEventMaskBit(kCGEventKeyDown) | CGEventMaskBit(kCGEventKeyUp);
	return CGEventTapCreate(kCGSessionEventTap, kCGHeadInsertEventTap, kCGEventTapOptionListenOnly,
		mask, vacs_tap_callback, NULL);
}

// vacs_run_tap adds the tap's source to the calling thread's run loop,
// reports that loop back via vacsLoopReady, then blocks in CFRunLoopRun
// until CFRunLoopStop is called on it.
static void vacs_run_tap(CFMachPortRef tap) {
	CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
	CFRunLoopRef loop = CFRunLoopGetCurrent();
	CFRunLoopAddSource(loop, source, kCFRunLoopCommonModes);
	CGEventTapEnable(tap, true);
	vacsLoopReady(loop);
	CFRunLoopRun();
	CFRelease(source);
}
*/
import "C"

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

// macOS requires a CGEventTap registered on a thread running a CFRunLoop,
// listening only (kCGEventTapOptionListenOnly never suppresses the key from
// reaching other apps). The tap's callback runs on whatever thread owns the
// run loop, so that thread is pinned for the runtime's lifetime.
var darwinEvents chan<- KeyEvent
var darwinMu sync.Mutex

//export vacsKeyEventCallback
func vacsKeyEventCallback(keycode C.int, keyDown C.int) {
	darwinMu.Lock()
	ch := darwinEvents
	darwinMu.Unlock()
	if ch == nil {
		return
	}
	state := KeyUp
	if keyDown != 0 {
		state = KeyDown
	}
	ev := KeyEvent{Code: fmt.Sprintf("KC%d", int(keycode)), State: state}
	select {
	case ch <- ev:
	default:
	}
}

// loopReadyCh receives the CFRunLoopRef from vacsLoopReady. A package-level
// channel is simplest here since only one darwin runtime is ever started at
// a time (Engine.Start is a no-op if already running).
var loopReadyCh = make(chan C.CFRunLoopRef, 1)

//export vacsLoopReady
func vacsLoopReady(loop C.CFRunLoopRef) {
	loopReadyCh <- loop
}

type darwinRuntime struct {
	loop C.CFRunLoopRef
	done chan struct{}
}

func (r *darwinRuntime) Stop() {
	C.CFRunLoopStop(r.loop)
	<-r.done
	darwinMu.Lock()
	darwinEvents = nil
	darwinMu.Unlock()
}

func startDarwinRuntime(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
	events := make(chan KeyEvent, 64)
	darwinMu.Lock()
	darwinEvents = events
	darwinMu.Unlock()

	tapErrCh := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tap := C.vacs_create_tap()
		if tap == 0 {
			tapErrCh <- fmt.Errorf("CGEventTapCreate failed: accessibility permission likely not granted")
			return
		}
		defer C.CFRelease(C.CFTypeRef(unsafe.Pointer(tap)))
		C.vacs_run_tap(tap)
	}()

	select {
	case loop := <-loopReadyCh:
		return &darwinRuntime{loop: loop, done: done}, events, nil
	case err := <-tapErrCh:
		return nil, nil, err
	case <-time.After(time.Second):
		return nil, nil, fmt.Errorf("macOS event tap runtime startup timed out")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func init() {
	platformStart = startDarwinRuntime
	platformNewEmitter = newDarwinEmitter
}

// newDarwinEmitter is unimplemented: radio integration would need a
// synthetic CGEventPost, which is not yet wired up.
func newDarwinEmitter() (Emitter, error) {
	return noopEmitter{}, nil
}
