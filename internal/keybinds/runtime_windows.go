//go:build windows

package keybinds

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows delivers global keys through WM_INPUT raw-input messages, which
// only arrive on the thread that registered the device and owns a message
// window. That thread must pump GetMessageW forever, so it runs on a
// dedicated OS thread for the lifetime of the runtime, independent of the
// goroutine scheduler.
var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRegisterClassW          = user32.NewProc("RegisterClassW")
	procCreateWindowExW         = user32.NewProc("CreateWindowExW")
	procDefWindowProcW          = user32.NewProc("DefWindowProcW")
	procGetMessageW             = user32.NewProc("GetMessageW")
	procTranslateMessage        = user32.NewProc("TranslateMessage")
	procDispatchMessageW        = user32.NewProc("DispatchMessageW")
	procPostThreadMessageW      = user32.NewProc("PostThreadMessageW")
	procPostQuitMessage         = user32.NewProc("PostQuitMessage")
	procRegisterRawInputDevices = user32.NewProc("RegisterRawInputDevices")
	procGetRawInputData         = user32.NewProc("GetRawInputData")
	procGetModuleHandleW        = kernel32.NewProc("GetModuleHandleW")
	procGetCurrentThreadId      = kernel32.NewProc("GetCurrentThreadId")
)

const (
	wmDestroy   = 0x0002
	wmInput     = 0x00FF
	wmQuit      = 0x0012
	wmNCDestroy = 0x0082

	ridevInputSink  = 0x00000100
	rimTypeKeyboard = 1
	ridInput        = 0x10000003

	hwndMessage = ^uintptr(2) // (HWND)(-3), message-only window parent
)

type wndClassW struct {
	style         uint32
	lpfnWndProc   uintptr
	clsExtra      int32
	wndExtra      int32
	hInstance     windows.Handle
	hIcon         windows.Handle
	hCursor       windows.Handle
	hbrBackground windows.Handle
	lpszMenuName  *uint16
	lpszClassName *uint16
}

type msgT struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

type rawInputDevice struct {
	usUsagePage uint16
	usUsage     uint16
	dwFlags     uint32
	hwndTarget  uintptr
}

type rawInputHeader struct {
	dwType  uint32
	dwSize  uint32
	hDevice uintptr
	wParam  uintptr
}

type rawKeyboard struct {
	makeCode uint16
	flags    uint16
	reserved uint16
	vKey     uint16
	message  uint32
	extraInfo uint32
}

const keyBreakFlag = 0x0001 // RI_KEY_BREAK: set on key-up

// windowsRuntime owns the dedicated message-loop thread.
type windowsRuntime struct {
	threadID uint32
	done     chan struct{}
}

func (r *windowsRuntime) Stop() {
	procPostThreadMessageW.Call(uintptr(r.threadID), wmQuit, 0, 0)
	<-r.done
}

func startWindowsRuntime(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
	events := make(chan KeyEvent, 64)
	type startResult struct {
		threadID uint32
		err      error
	}
	startCh := make(chan startResult, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		// LockOSThread pins this goroutine to its OS thread for the whole
		// message loop's lifetime; RegisterRawInputDevices and GetMessageW
		// must run on the same thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		hwnd, err := setupMessageWindow(events)
		if err != nil {
			startCh <- startResult{err: err}
			return
		}
		tid, _, _ := procGetCurrentThreadId.Call()
		startCh <- startResult{threadID: uint32(tid)}
		runMessageLoop(hwnd)
	}()

	select {
	case res := <-startCh:
		if res.err != nil {
			return nil, nil, res.err
		}
		return &windowsRuntime{threadID: res.threadID, done: done}, events, nil
	case <-time.After(time.Second):
		return nil, nil, fmt.Errorf("windows raw input runtime startup timed out")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

var windowClassOnce sync.Once
var windowClassName = windows.StringToUTF16Ptr("VACSRawInputHiddenWindow")

func setupMessageWindow(events chan<- KeyEvent) (uintptr, error) {
	hinstance, _, _ := procGetModuleHandleW.Call(0)

	var classErr error
	windowClassOnce.Do(func() {
		wc := wndClassW{
			lpfnWndProc:   windows.NewCallback(wndProc(events)),
			hInstance:     windows.Handle(hinstance),
			lpszClassName: windowClassName,
		}
		atom, _, callErr := procRegisterClassW.Call(uintptr(unsafe.Pointer(&wc)))
		if atom == 0 {
			classErr = fmt.Errorf("RegisterClassW failed: %w", callErr)
		}
	})
	if classErr != nil {
		return 0, classErr
	}

	hwnd, _, callErr := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(windowClassName)),
		0,
		0, 0, 0, 0, 0,
		hwndMessage,
		0,
		hinstance,
		0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW failed: %w", callErr)
	}

	rid := rawInputDevice{
		usUsagePage: 0x01, // Generic Desktop Controls
		usUsage:     0x06, // Keyboard
		dwFlags:     ridevInputSink,
		hwndTarget:  hwnd,
	}
	ok, _, callErr := procRegisterRawInputDevices.Call(
		uintptr(unsafe.Pointer(&rid)), 1, unsafe.Sizeof(rid),
	)
	if ok == 0 {
		return 0, fmt.Errorf("RegisterRawInputDevices failed: %w", callErr)
	}

	return hwnd, nil
}

func runMessageLoop(hwnd uintptr) {
	var msg msgT
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(ret) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

// wndProc closes over the event channel so WM_INPUT can decode and forward a
// KeyEvent without any global state.
func wndProc(events chan<- KeyEvent) func(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	return func(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
		switch msg {
		case wmInput:
			if ev, ok := decodeRawInput(lParam); ok {
				select {
				case events <- ev:
				default:
				}
			}
		case wmDestroy:
			procPostQuitMessage.Call(0)
			return 0
		}
		ret, _, _ := procDefWindowProcW.Call(hwnd, uintptr(msg), wParam, lParam)
		return ret
	}
}

func decodeRawInput(hRawInput uintptr) (KeyEvent, bool) {
	var size uint32
	procGetRawInputData.Call(hRawInput, ridInput, 0, uintptr(unsafe.Pointer(&size)), unsafe.Sizeof(rawInputHeader{}))
	if size == 0 {
		return KeyEvent{}, false
	}
	buf := make([]byte, size)
	procGetRawInputData.Call(hRawInput, ridInput, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)), unsafe.Sizeof(rawInputHeader{}))

	header := (*rawInputHeader)(unsafe.Pointer(&buf[0]))
	if header.dwType != rimTypeKeyboard {
		return KeyEvent{}, false
	}
	kb := (*rawKeyboard)(unsafe.Pointer(&buf[unsafe.Sizeof(rawInputHeader{})]))

	state := KeyDown
	if kb.flags&keyBreakFlag != 0 {
		state = KeyUp
	}
	return KeyEvent{Code: fmt.Sprintf("VK%d", kb.vKey), State: state}, true
}

func init() {
	platformStart = startWindowsRuntime
	platformNewEmitter = newWindowsEmitter
}

// newWindowsEmitter is unimplemented: radio integration requires synthesizing
// global input via SendInput, which is not yet wired up.
func newWindowsEmitter() (Emitter, error) {
	return noopEmitter{}, nil
}
