// Command vacs-client is the VACS desktop voice client: it connects to the
// VATSIM signaling server, negotiates WebRTC call audio, and drives a
// global keybind engine for push-to-talk/push-to-mute/radio-integration
// transmit control.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/vatsim-vacs/vacs-client/internal/audio"
	"github.com/vatsim-vacs/vacs-client/internal/dispatch"
	"github.com/vatsim-vacs/vacs-client/internal/keybinds"
	"github.com/vatsim-vacs/vacs-client/internal/signaling"
	"github.com/vatsim-vacs/vacs-client/internal/signaling/transport"
	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/pkg/vacserr"
)

// cliConfig holds the flags this binary exposes. Sourcing config from a
// file or a GUI settings dialog is out of scope here, same as pkg/config's
// own doc comment says — flags are the one ambient source this CLI shell
// provides.
type cliConfig struct {
	signalingURL    string
	token           string
	protocolVersion string
	iceURLs         string
	iceUsername     string
	iceCredential   string

	inputHost    string
	inputDevice  string
	outputHost   string
	outputDevice string

	keybindMode string
	keybindCode string

	devMode bool
}

func parseFlags() cliConfig {
	var cfg cliConfig
	flag.StringVar(&cfg.signalingURL, "signaling-url", "wss://voice.vatsim.net/signaling", "signaling websocket URL")
	flag.StringVar(&cfg.token, "token", "", "VATSIM auth token")
	flag.StringVar(&cfg.protocolVersion, "protocol-version", "1.0.0", "client protocol version")
	flag.StringVar(&cfg.iceURLs, "ice-urls", "stun:stun.l.google.com:19302", "comma-separated ICE server URLs")
	flag.StringVar(&cfg.iceUsername, "ice-username", "", "ICE (TURN) username, if required")
	flag.StringVar(&cfg.iceCredential, "ice-credential", "", "ICE (TURN) credential, if required")
	flag.StringVar(&cfg.inputHost, "input-host", "", "preferred input host API (empty: default)")
	flag.StringVar(&cfg.inputDevice, "input-device", "", "preferred input device (empty: default)")
	flag.StringVar(&cfg.outputHost, "output-host", "", "preferred output host API (empty: default)")
	flag.StringVar(&cfg.outputDevice, "output-device", "", "preferred output device (empty: default)")
	flag.StringVar(&cfg.keybindMode, "keybind-mode", "PushToTalk", "VoiceActivation | PushToTalk | PushToMute | RadioIntegration")
	flag.StringVar(&cfg.keybindCode, "keybind-code", "", "physical key code bound to the transmit mode")
	flag.BoolVar(&cfg.devMode, "dev", false, "use a development (console, non-JSON) logger")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	logger, err := newLogger(cfg.devMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("vacs-client exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(dev bool) (logging.Logger, error) {
	if dev {
		return logging.NewDevelopment()
	}
	return logging.New()
}

func run(cliCfg cliConfig, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutdown signal received")
		cancel()
	}()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	audioCfg := config.AudioConfig{
		InputHost:    cliCfg.inputHost,
		InputDevice:  cliCfg.inputDevice,
		OutputHost:   cliCfg.outputHost,
		OutputDevice: cliCfg.outputDevice,
		InputVolume:  1.0,
		OutputVolume: 1.0,
	}
	if err := config.Validate(audioCfg); err != nil {
		return err
	}

	selector := audio.NewSelector()
	inputDevice, inputFellBack, err := selector.Open(audio.RoleInput, audioCfg.InputHost, audioCfg.InputDevice)
	if err != nil {
		return fmt.Errorf("open input device: %w", err)
	}
	if inputFellBack {
		logger.Warnw("input device selection fell back from preference", "device", inputDevice.Name())
	}
	outputDevice, outputFellBack, err := selector.Open(audio.RoleOutput, audioCfg.OutputHost, audioCfg.OutputDevice)
	if err != nil {
		return fmt.Errorf("open output device: %w", err)
	}
	if outputFellBack {
		logger.Warnw("output device selection fell back from preference", "device", outputDevice.Name())
	}

	mixer := audio.NewMixer()
	playback, err := audio.StartPlayback(outputDevice, mixer, logger)
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	defer playback.Close()

	callAudio := dispatch.NewCallAudio(mixer, inputDevice, audioCfg, logger)

	iceServers, err := parseICEServers(cliCfg)
	if err != nil {
		return err
	}

	signalingCfg := config.DefaultSignalingConfig(cliCfg.signalingURL, cliCfg.token, cliCfg.protocolVersion)
	if err := config.Validate(signalingCfg); err != nil {
		return err
	}

	transportClient := signaling.NewClient(transport.NewMockTransport(), logger)
	ui := newLogUI(logger)
	dispatcher := dispatch.NewDispatcher(transportClient, iceServers, time.Duration(signalingCfg.AutoHangupSeconds)*time.Second, callAudio, ui, logger)

	keybindCfg := config.KeybindConfig{Mode: cliCfg.keybindMode, Code: cliCfg.keybindCode}
	if err := config.Validate(keybindCfg); err != nil {
		return err
	}
	engine, err := keybinds.New(keybindCfg, callAudioMuter{callAudio}, logger)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start keybind engine: %w", err)
	}
	defer engine.Stop()

	dial := func(dialCtx context.Context) (transport.Transport, error) {
		return transport.Dial(dialCtx, signalingCfg.URL, map[string][]string{
			"Authorization": {"Bearer " + signalingCfg.Token},
		})
	}
	onDisconnect := func() {
		dispatcher.CleanupSignaling()
	}

	go dispatcher.Run(ctx)
	signaling.Run(ctx, transportClient, dial, signalingCfg, onDisconnect, logger)

	return nil
}

func parseICEServers(cfg cliConfig) ([]config.ICEServerConfig, error) {
	urls := strings.Split(cfg.iceURLs, ",")
	for i := range urls {
		urls[i] = strings.TrimSpace(urls[i])
	}
	servers := []config.ICEServerConfig{{
		URLs:       urls,
		Username:   cfg.iceUsername,
		Credential: cfg.iceCredential,
	}}
	iceCfg := config.ICEConfig{Servers: servers}
	if err := config.Validate(iceCfg); err != nil {
		return nil, fmt.Errorf("invalid ICE configuration: %w", err)
	}
	return servers, nil
}

// callAudioMuter adapts *dispatch.CallAudio to keybinds.AudioMuter; the two
// packages don't share an interface directly to avoid dispatch importing
// keybinds (or vice versa) for a single method.
type callAudioMuter struct {
	audio *dispatch.CallAudio
}

func (m callAudioMuter) SetMuted(muted bool) { m.audio.SetMuted(muted) }

// logUI is the minimal dispatch.UIEvents sink for this CLI shell: it logs
// call-list transitions rather than rendering them, leaving a real desktop
// window or tray UI as the presentation layer this binary stands in for.
type logUI struct {
	logger logging.Logger
}

func newLogUI(logger logging.Logger) *logUI {
	return &logUI{logger: logger}
}

func (u *logUI) CallListAdd(peerID string, incoming bool) {
	u.logger.Infow("call added", "peerId", peerID, "incoming", incoming)
}

func (u *logUI) CallConnected(peerID string) {
	u.logger.Infow("call connected", "peerId", peerID)
}

func (u *logUI) CallDisconnected(peerID string) {
	u.logger.Infow("call disconnected", "peerId", peerID)
}

func (u *logUI) CallEnded(peerID string) {
	u.logger.Infow("call ended", "peerId", peerID)
}

func (u *logUI) CallError(peerID string, isLocal bool, reason vacserr.CallErrorReason) {
	u.logger.Warnw("call error", "peerId", peerID, "isLocal", isLocal, "reason", reason)
}
