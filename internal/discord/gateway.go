package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Veraticus/milo/internal/common"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Gateway intents.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentMessageContent
)

// DefaultGatewayURL is used when no URL is configured.
const DefaultGatewayURL = "wss://gateway.discord.gg"

var (
	errReconnect = errors.New("gateway requested reconnect")
	errZombie    = errors.New("heartbeat not acknowledged")
)

// EventHandler receives gateway dispatches. Messages are delivered one at a
// time in arrival order and interactions concurrently. READY is delivered on
// the read loop before any message of the session, so HandleReady must
// return promptly.
type EventHandler interface {
	HandleReady(ctx context.Context, ready Ready)
	HandleMessage(ctx context.Context, msg Message)
	HandleInteraction(ctx context.Context, interaction Interaction)
}

// GatewayConfig configures the websocket connection.
type GatewayConfig struct {
	Token             string
	URL               string
	Intents           int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type gatewayPayload struct {
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
	Op int             `json:"op"`
}

type outgoingPayload struct {
	D  any `json:"d"`
	Op int `json:"op"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Properties map[string]string `json:"properties"`
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
}

// Gateway keeps a websocket session open and feeds events to a handler.
// Sessions are not resumed: after a reconnect the handler sees READY again
// and is expected to catch up from its own records.
type Gateway struct {
	handler EventHandler
	logger  *slog.Logger
	dialer  *websocket.Dialer
	conn    *websocket.Conn
	cfg     GatewayConfig
	seq     atomic.Int64
	acked   atomic.Bool
	writeMu sync.Mutex
}

// NewGateway creates a gateway for handler.
func NewGateway(cfg GatewayConfig, handler EventHandler, logger *slog.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: discord token", common.ErrMissingConfig)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: gateway handler", common.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultGatewayURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 2 * time.Minute
	}

	return &Gateway{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}, nil
}

// Run connects and reconnects until ctx is canceled or the token is rejected.
func (g *Gateway) Run(ctx context.Context) error {
	delay := g.cfg.ReconnectDelay

	for {
		ready, err := g.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if ready {
			delay = g.cfg.ReconnectDelay
		}

		g.logger.Warn("Gateway session ended, reconnecting", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		delay *= 2
		if delay > g.cfg.MaxReconnectDelay {
			delay = g.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection and reports whether it reached READY.
func (g *Gateway) session(ctx context.Context) (bool, error) {
	url := g.cfg.URL
	if !strings.Contains(url, "?") {
		url += "/?v=10&encoding=json"
	}

	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial gateway: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()
	g.seq.Store(0)

	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return false, fmt.Errorf("failed to read hello: %w", err)
	}
	if hello.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload: %s", string(hello.D))
	}

	if err := g.send(opIdentify, identifyData{
		Token:   g.cfg.Token,
		Intents: g.cfg.Intents,
		Properties: map[string]string{
			"os":      runtime.GOOS,
			"browser": "milo",
			"device":  "milo",
		},
	}); err != nil {
		return false, fmt.Errorf("failed to identify: %w", err)
	}

	heartbeatErr := make(chan error, 1)
	go func() {
		heartbeatErr <- g.heartbeat(sessionCtx, time.Duration(hd.HeartbeatInterval)*time.Millisecond)
		cancel()
	}()

	messages := make(chan Message, 256)
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		for msg := range messages {
			g.handler.HandleMessage(ctx, msg)
		}
	}()
	defer func() {
		close(messages)
		workers.Wait()
	}()

	ready := false
	for {
		var p gatewayPayload
		if err := conn.ReadJSON(&p); err != nil {
			select {
			case hbErr := <-heartbeatErr:
				if hbErr != nil {
					return ready, hbErr
				}
			default:
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == 4004 {
				return ready, ErrUnauthorized
			}
			return ready, fmt.Errorf("gateway read failed: %w", err)
		}

		if p.S != nil {
			g.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			if g.dispatch(ctx, p, messages) {
				ready = true
			}
		case opHeartbeat:
			if err := g.send(opHeartbeat, g.lastSeq()); err != nil {
				return ready, err
			}
		case opHeartbeatACK:
			g.acked.Store(true)
		case opReconnect:
			return ready, errReconnect
		case opInvalidSession:
			return ready, errors.New("gateway invalidated the session")
		}
	}
}

// dispatch routes an event and reports whether it was READY.
func (g *Gateway) dispatch(ctx context.Context, p gatewayPayload, messages chan<- Message) bool {
	switch p.T {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(p.D, &ready); err != nil {
			g.logger.Error("Failed to decode READY", "error", err)
			return false
		}
		g.logger.Info("Gateway ready", "user", ready.User.Username, "session", ready.SessionID)
		g.handler.HandleReady(ctx, ready)
		return true

	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(p.D, &msg); err != nil {
			g.logger.Error("Failed to decode MESSAGE_CREATE", "error", err)
			return false
		}
		select {
		case messages <- msg:
		case <-ctx.Done():
		}

	case "INTERACTION_CREATE":
		var interaction Interaction
		if err := json.Unmarshal(p.D, &interaction); err != nil {
			g.logger.Error("Failed to decode INTERACTION_CREATE", "error", err)
			return false
		}
		go g.handler.HandleInteraction(ctx, interaction)

	default:
		g.logger.Debug("Ignoring dispatch", "type", p.T)
	}
	return false
}

func (g *Gateway) heartbeat(ctx context.Context, interval time.Duration) error {
	g.acked.Store(true)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !g.acked.Swap(false) {
				return errZombie
			}
			if err := g.send(opHeartbeat, g.lastSeq()); err != nil {
				return fmt.Errorf("failed to send heartbeat: %w", err)
			}
		}
	}
}

func (g *Gateway) lastSeq() any {
	if seq := g.seq.Load(); seq > 0 {
		return seq
	}
	return nil
}

func (g *Gateway) send(op int, data any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.conn == nil {
		return errors.New("gateway not connected")
	}
	_ = g.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return g.conn.WriteJSON(outgoingPayload{Op: op, D: data})
}
