package wcferry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skip2/go-qrcode"
)

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Session owns the gateway connection lifecycle: connect with bounded
// fixed-delay retry, consume events while connected, reconnect on drop,
// and fail the process only when a full retry budget is exhausted.
type Session struct {
	url         string
	maxAttempts int
	retryDelay  time.Duration

	bridge *Bridge
	qrOut  io.Writer
	logger *slog.Logger

	state atomic.Int32
}

// NewSession creates a session. qrOut is where login QR challenges are
// rendered for the operator (typically the process stdout).
func NewSession(url string, maxAttempts int, retryDelay time.Duration, bridge *Bridge, qrOut io.Writer, logger *slog.Logger) *Session {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		url:         url,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		bridge:      bridge,
		qrOut:       qrOut,
		logger:      logger,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Info("session state", "from", old.String(), "to", st.String())
	}
}

// Run drives the session until ctx is canceled or the retry budget is
// exhausted. A dropped connection gets a fresh retry budget; only
// failing every attempt in a budget is fatal.
func (s *Session) Run(ctx context.Context) error {
	for {
		client, err := s.connect(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			return err
		}

		s.setState(StateConnected)
		s.consume(ctx, client)
		client.Close()

		if ctx.Err() != nil {
			s.setState(StateShuttingDown)
			return nil
		}
		s.setState(StateDisconnected)
		s.logger.Warn("gateway connection lost, reconnecting")
	}
}

// connect dials the gateway with fixed-delay bounded retry.
func (s *Session) connect(ctx context.Context) (*Client, error) {
	s.setState(StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		client, err := Dial(ctx, s.url, s.logger)
		if err == nil {
			s.logger.Info("gateway connected", "url", s.url, "attempt", attempt)
			return client, nil
		}
		lastErr = err
		s.logger.Warn("gateway connection failed",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", err,
		)

		if attempt < s.maxAttempts {
			if err := sleepCtx(ctx, s.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("wcferry: gateway unreachable after %d attempts: %w", s.maxAttempts, lastErr)
}

// consume drains events until the connection drops or ctx is canceled.
func (s *Session) consume(ctx context.Context, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			s.handleEvent(ev, client)
		}
	}
}

func (s *Session) handleEvent(ev Event, client *Client) {
	switch ev.Type {
	case EventScan:
		if ev.Scan == nil {
			return
		}
		s.renderQR(ev.Scan.URL)
	case EventLogin:
		if ev.Login == nil {
			return
		}
		s.bridge.SetIdentity(ev.Login.Wxid, ev.Login.Name)
		s.logger.Info("logged in", "wxid", ev.Login.Wxid, "name", ev.Login.Name)
	case EventLogout:
		s.logger.Warn("logged out by remote")
	case EventMessage:
		if ev.Message == nil {
			return
		}
		s.bridge.HandleMessage(ev.Message, client)
	default:
		s.logger.Debug("unhandled gateway event", "type", string(ev.Type))
	}
}

// renderQR prints the login challenge as a terminal QR code.
func (s *Session) renderQR(url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		s.logger.Error("QR encode failed", "error", err)
		fmt.Fprintf(s.qrOut, "扫码登录：%s\n", url)
		return
	}
	fmt.Fprintln(s.qrOut, "请使用微信扫描二维码登录：")
	fmt.Fprintln(s.qrOut, qr.ToSmallString(false))
}

// sleepCtx sleeps for d unless ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
