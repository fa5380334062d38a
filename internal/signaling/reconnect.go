package signaling

import (
	"context"
	"time"

	"github.com/vatsim-vacs/vacs-client/pkg/config"
	"github.com/vatsim-vacs/vacs-client/pkg/logging"
	"github.com/vatsim-vacs/vacs-client/internal/signaling/transport"
)

// Dialer builds a fresh transport for one connection attempt.
type Dialer func(ctx context.Context) (transport.Transport, error)

// Run drives client through repeated connect/login/Start cycles per cfg's
// reconnection policy: on transport failure or a server-initiated close, it
// waits an exponentially backed-off delay (capped at cfg.MaxBackoff) and
// redials, up to cfg.MaxReconnectAttempts consecutive failures. It returns
// once ctx is cancelled, AutoReconnect is false, or the attempt budget is
// exhausted.
//
// onDisconnect is called after every session that reached a successful
// login ends, before the next reconnect attempt — the caller's hook for
// cleanup_signaling (tearing down calls, clearing held/incoming/outgoing
// state) so no call is ever resurrected across a reconnect.
func Run(ctx context.Context, client *Client, dial Dialer, cfg config.SignalingConfig, onDisconnect func(), logger logging.Logger) {
	backoff := cfg.InitialBackoff
	attempts := 0

	for ctx.Err() == nil {
		tr, err := dial(ctx)
		if err != nil {
			logger.Warnw("failed to dial signaling transport", "error", err)
			if !cfg.AutoReconnect {
				return
			}
			attempts++
			if cfg.MaxReconnectAttempts > 0 && attempts > cfg.MaxReconnectAttempts {
				logger.Errorw("signaling reconnect attempts exhausted, giving up")
				return
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
			continue
		}

		client.rebind(tr)

		startDone := make(chan InterruptionReason, 1)
		go func() { startDone <- client.Start(ctx) }()

		_, loginErr := client.Login(ctx, cfg.Token, cfg.ProtocolVersion, cfg.LoginTimeout)
		hadSession := loginErr == nil
		if loginErr != nil {
			logger.Warnw("signaling login failed", "error", loginErr)
			client.Disconnect()
		} else {
			attempts = 0
			backoff = cfg.InitialBackoff
		}

		reason := <-startDone

		if hadSession && onDisconnect != nil {
			onDisconnect()
		}

		if reason == ReasonShutdown || !cfg.AutoReconnect {
			return
		}

		attempts++
		if cfg.MaxReconnectAttempts > 0 && attempts > cfg.MaxReconnectAttempts {
			logger.Errorw("signaling reconnect attempts exhausted, giving up")
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, cfg.MaxBackoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next <= 0 || next > max {
		return max
	}
	return next
}
