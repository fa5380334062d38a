//go:build linux

package keybinds

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
)

// Linux has no compile-time choice of display server, so the runtime picks
// a backend by inspecting the session environment. Wayland goes through the
// XDG Global Shortcuts portal; X11 and anything unrecognized fall back to
// the no-op stub runtime (no global capture, matching the portal's own
// "Unsupported platform" behavior in the original engine).
func startLinuxRuntime(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
	switch detectDisplayServer() {
	case "wayland":
		return startPortalRuntime(ctx)
	default:
		return startStubRuntime(ctx)
	}
}

func detectDisplayServer() string {
	if os.Getenv("XDG_SESSION_TYPE") == "wayland" || os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

// portalShortcuts maps each of the four shortcuts registered with the portal to
// a synthetic function-key code. The portal negotiates arbitrary key
// combinations with the compositor and reports back only a shortcut id, not
// a keyboard_types-style physical code, so each mode gets a reserved code
// that real keyboards don't produce.
var portalShortcuts = []struct {
	id, description, code string
}{
	{"push_to_talk", "Push-to-talk (activate voice transmission while held)", "F32"},
	{"push_to_mute", "Push-to-mute (mute microphone while held)", "F33"},
	{"radio_integration", "Radio Integration", "F34"},
	{"call_control", "Call Control (end active/accept next)", "F35"},
}

func codeForShortcutID(id string) (string, bool) {
	for _, s := range portalShortcuts {
		if s.id == id {
			return s.code, true
		}
	}
	return "", false
}

const (
	portalBusName          = "org.freedesktop.portal.Desktop"
	portalObjectPath       = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	globalShortcutsIface   = "org.freedesktop.portal.GlobalShortcuts"
	requestResponseIface   = "org.freedesktop.portal.Request"
	portalNegotiateTimeout = 10 * time.Second
)

type portalRuntime struct {
	conn    *dbus.Conn
	session dbus.ObjectPath
	cancel  context.CancelFunc
	done    chan struct{}
}

func (r *portalRuntime) Stop() {
	r.cancel()
	<-r.done
	_ = r.conn.Close()
}

// startPortalRuntime negotiates a GlobalShortcuts session over the session
// bus: CreateSession, BindShortcuts for all four modes, then listens for
// Activated/Deactivated signals for the runtime's lifetime. The whole
// negotiation is bounded by portalNegotiateTimeout; a slow or absent portal
// implementation (no xdg-desktop-portal-{kde,gnome,hyprland} running)
// yields a typed error instead of hanging startup.
func startPortalRuntime(ctx context.Context) (Runtime, <-chan KeyEvent, error) {
	negotiateCtx, negotiateCancel := context.WithTimeout(ctx, portalNegotiateTimeout)
	defer negotiateCancel()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to session bus: %w", err)
	}

	sessionHandle, err := createPortalSession(negotiateCtx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := bindPortalShortcuts(negotiateCtx, conn, sessionHandle); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	events := make(chan KeyEvent, 64)
	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	matchArgs := []dbus.MatchOption{
		dbus.WithMatchInterface(globalShortcutsIface),
		dbus.WithMatchObjectPath(portalObjectPath),
	}
	if err := conn.AddMatchSignal(matchArgs...); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("subscribe to portal signals: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runPortalSignalLoop(runCtx, signals, events)
	}()

	return &portalRuntime{conn: conn, session: sessionHandle, cancel: cancel, done: done}, events, nil
}

func createPortalSession(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	obj := conn.Object(portalBusName, portalObjectPath)
	options := map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant("vacs_keybinds"),
		"handle_token":         dbus.MakeVariant("vacs_create_session"),
	}

	var requestPath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, globalShortcutsIface+".CreateSession", 0, options).Store(&requestPath); err != nil {
		return "", fmt.Errorf("CreateSession: %w", err)
	}

	results, err := awaitPortalResponse(ctx, conn, requestPath)
	if err != nil {
		return "", err
	}
	handle, ok := results["session_handle"].Value().(string)
	if !ok {
		return "", fmt.Errorf("CreateSession response missing session_handle")
	}
	return dbus.ObjectPath(handle), nil
}

func bindPortalShortcuts(ctx context.Context, conn *dbus.Conn, session dbus.ObjectPath) error {
	obj := conn.Object(portalBusName, portalObjectPath)

	type shortcutEntry struct {
		ID     string
		Fields map[string]dbus.Variant
	}
	shortcuts := make([]shortcutEntry, 0, len(portalShortcuts))
	for _, s := range portalShortcuts {
		shortcuts = append(shortcuts, shortcutEntry{
			ID:     s.id,
			Fields: map[string]dbus.Variant{"description": dbus.MakeVariant(s.description)},
		})
	}

	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant("vacs_bind_shortcuts")}

	var requestPath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, globalShortcutsIface+".BindShortcuts", 0,
		session, shortcuts, "", options).Store(&requestPath); err != nil {
		return fmt.Errorf("BindShortcuts: %w", err)
	}

	if _, err := awaitPortalResponse(ctx, conn, requestPath); err != nil {
		return err
	}
	return nil
}

// awaitPortalResponse subscribes to org.freedesktop.portal.Request.Response
// on requestPath and blocks for the one signal the portal sends back,
// honoring ctx's deadline.
func awaitPortalResponse(ctx context.Context, conn *dbus.Conn, requestPath dbus.ObjectPath) (map[string]dbus.Variant, error) {
	signals := make(chan *dbus.Signal, 1)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestResponseIface),
		dbus.WithMatchObjectPath(requestPath),
	); err != nil {
		return nil, fmt.Errorf("subscribe to request response: %w", err)
	}

	for {
		select {
		case sig := <-signals:
			if sig.Path != requestPath || len(sig.Body) < 2 {
				continue
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, fmt.Errorf("portal request %s failed with response code %d", requestPath, code)
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func runPortalSignalLoop(ctx context.Context, signals <-chan *dbus.Signal, events chan<- KeyEvent) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			ev, ok := decodePortalSignal(sig)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

// decodePortalSignal handles GlobalShortcuts.Activated/Deactivated, whose
// body is (session_handle ObjectPath, shortcut_id string, timestamp uint64,
// options map[string]Variant).
func decodePortalSignal(sig *dbus.Signal) (KeyEvent, bool) {
	var state KeyState
	switch sig.Name {
	case globalShortcutsIface + ".Activated":
		state = KeyDown
	case globalShortcutsIface + ".Deactivated":
		state = KeyUp
	default:
		return KeyEvent{}, false
	}
	if len(sig.Body) < 2 {
		return KeyEvent{}, false
	}
	shortcutID, ok := sig.Body[1].(string)
	if !ok {
		return KeyEvent{}, false
	}
	code, ok := codeForShortcutID(shortcutID)
	if !ok {
		return KeyEvent{}, false
	}
	return KeyEvent{Code: code, State: state}, true
}

func init() {
	platformStart = startLinuxRuntime
	// The emitter is always a no-op on Linux: Wayland's security model
	// forbids global input injection and there is no portal API for it;
	// X11 would need the XTest extension, not yet implemented.
	platformNewEmitter = newNoopEmitter
}
