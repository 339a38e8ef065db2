package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/models"
)

// SessionState is the lifecycle state of one feed session.
type SessionState string

const (
	StateConnecting   SessionState = "CONNECTING"
	StateConnected    SessionState = "CONNECTED"
	StateReconnecting SessionState = "RECONNECTING"
	StateClosed       SessionState = "CLOSED"
)

// SessionConfig governs connection and reconnection behavior.
type SessionConfig struct {
	// ReconnectAttempts is the number of reconnects tried after a drop
	// before the session gives up.
	ReconnectAttempts int
	// ReconnectInterval is the fixed wait between reconnect attempts.
	ReconnectInterval time.Duration
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReconnectAttempts: 3,
		ReconnectInterval: 10 * time.Second,
	}
}

type command struct {
	subscribe bool
	symbols   []string
	reply     chan error
}

// Session is the actor owning one broker feed connection for one credential.
// All writes to the connection happen on the session goroutine; Subscribe
// and Unsubscribe hand frames to it through the command channel. On a
// connection drop the session reconnects a bounded number of times and
// replays its subscriptions; when the attempts run out it moves to CLOSED
// and stays there.
type Session struct {
	streamer broker.Streamer
	hub      *Hub
	config   SessionConfig
	log      zerolog.Logger

	commands chan command

	mu    sync.RWMutex
	state SessionState

	onReconnect func(models.BrokerID)
	onTick      func(models.BrokerID)
}

// NewSession creates a session over a resolved streamer.
func NewSession(streamer broker.Streamer, hub *Hub, config SessionConfig, log zerolog.Logger) *Session {
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	return &Session{
		streamer: streamer,
		hub:      hub,
		config:   config,
		log:      log.With().Str("broker", string(streamer.Broker())).Logger(),
		commands: make(chan command),
		state:    StateConnecting,
	}
}

// OnReconnect installs a callback invoked per reconnect attempt.
func (s *Session) OnReconnect(fn func(models.BrokerID)) { s.onReconnect = fn }

// OnTick installs a callback invoked per forwarded tick.
func (s *Session) OnTick(fn func(models.BrokerID)) { s.onTick = fn }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Subscribe asks the broker feed for the given symbols. It blocks until the
// frame is written or the context ends.
func (s *Session) Subscribe(ctx context.Context, symbols []string) error {
	return s.send(ctx, command{subscribe: true, symbols: symbols, reply: make(chan error, 1)})
}

// Unsubscribe stops the feed for the given symbols.
func (s *Session) Unsubscribe(ctx context.Context, symbols []string) error {
	return s.send(ctx, command{subscribe: false, symbols: symbols, reply: make(chan error, 1)})
}

func (s *Session) send(ctx context.Context, cmd command) error {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until the context ends or the reconnect budget is
// spent. The budget covers the session's whole lifetime, so a feed that
// drops on every connect cannot loop forever.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	subscribed := make(map[string]int)
	attempts := 0

	for {
		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Int("attempt", attempts).Msg("feed dial failed")
			if !s.backoff(ctx, &attempts) {
				return err
			}
			continue
		}

		s.setState(StateConnected)
		s.log.Info().Msg("feed connected")

		if err := s.replay(conn, subscribed); err != nil {
			conn.Close()
			if !s.backoff(ctx, &attempts) {
				return err
			}
			continue
		}

		err = s.serve(ctx, conn, subscribed)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("feed dropped")
		if !s.backoff(ctx, &attempts) {
			return err
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.config.Dialer.DialContext(ctx, s.streamer.StreamURL(), s.streamer.StreamHeader())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// replay re-sends the subscribe frame for symbols that were active before a
// reconnect.
func (s *Session) replay(conn *websocket.Conn, subscribed map[string]int) error {
	if len(subscribed) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(subscribed))
	for sym := range subscribed {
		symbols = append(symbols, sym)
	}
	frame, err := s.streamer.SubscribeFrame(symbols)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// serve pumps the connection: reads fan out to the hub, commands write
// frames. It returns when the read loop fails.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn, subscribed map[string]int) error {
	readErr := make(chan error, 1)
	ticks := make(chan []byte, 64)

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case ticks <- payload:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case payload := <-ticks:
			if s.onTick != nil {
				s.onTick(s.streamer.Broker())
			}
			s.hub.Publish(models.Tick{
				Broker:     s.streamer.Broker(),
				Payload:    payload,
				ReceivedAt: time.Now(),
			})
		case cmd := <-s.commands:
			cmd.reply <- s.apply(conn, cmd, subscribed)
		}
	}
}

// apply updates the per-symbol reference counts and writes a frame only for
// symbols that actually change feed state: a subscribe frame when a symbol
// gains its first subscriber, an unsubscribe frame when it loses its last.
// Symbols shared by several stream clients stay live until every one of
// them has let go.
func (s *Session) apply(conn *websocket.Conn, cmd command, subscribed map[string]int) error {
	var changed []string
	if cmd.subscribe {
		for _, sym := range cmd.symbols {
			if subscribed[sym] == 0 {
				changed = append(changed, sym)
			}
			subscribed[sym]++
		}
	} else {
		for _, sym := range cmd.symbols {
			switch subscribed[sym] {
			case 0:
			case 1:
				delete(subscribed, sym)
				changed = append(changed, sym)
			default:
				subscribed[sym]--
			}
		}
	}
	if len(changed) == 0 {
		return nil
	}
	var frame []byte
	var err error
	if cmd.subscribe {
		frame, err = s.streamer.SubscribeFrame(changed)
	} else {
		frame, err = s.streamer.UnsubscribeFrame(changed)
	}
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// backoff waits the reconnect interval and reports whether another attempt
// is allowed.
func (s *Session) backoff(ctx context.Context, attempts *int) bool {
	*attempts++
	if *attempts > s.config.ReconnectAttempts {
		s.log.Error().Int("attempts", *attempts-1).Msg("feed reconnects exhausted")
		return false
	}
	s.setState(StateReconnecting)
	if s.onReconnect != nil {
		s.onReconnect(s.streamer.Broker())
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.config.ReconnectInterval):
		return true
	}
}
