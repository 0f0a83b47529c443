// Package gateway serves the chat websocket: it authenticates the upgrade
// request, runs one read loop and one write pump per connection and routes
// inbound events to the chat service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"uppy/chat/internal/auth"
	"uppy/chat/internal/chat"
	"uppy/chat/internal/rooms"
	"uppy/chat/internal/sessions"
)

var (
	errMalformedData = errors.New("malformed event data")

	tracer = otel.Tracer("uppy/chat/internal/gateway")
)

type Options struct {
	// OutboxSize bounds queued outbound frames per connection.
	OutboxSize int
	// OriginPatterns are host patterns accepted in the Origin header.
	OriginPatterns []string
}

type Server struct {
	authn    *auth.Authenticator
	registry *sessions.Registry
	chat     *chat.Service
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	conns    map[string]*Conn
	draining bool
	wg       sync.WaitGroup
}

func NewServer(authn *auth.Authenticator, registry *sessions.Registry, svc *chat.Service, opts Options, logger *zap.Logger) *Server {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	return &Server{
		authn:    authn,
		registry: registry,
		chat:     svc,
		opts:     opts,
		logger:   logger.With(zap.String("component", "gateway")),
		conns:    make(map[string]*Conn),
	}
}

// OriginPatterns turns a CORS origin setting ("*" or a comma separated list
// of origins) into websocket origin host patterns.
func OriginPatterns(corsOrigin string) []string {
	var out []string
	for _, o := range strings.Split(corsOrigin, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				o = u.Host
			}
		}
		out = append(out, o)
	}
	return out
}

// ServeHTTP authenticates the upgrade request and, on success, serves the
// connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &Conn{
		id:     uuid.NewString(),
		joined: make(map[string]struct{}),
	}
	c.logger = s.logger.With(zap.String("conn", c.id))

	if s.isDraining() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		_ = c.state.To(Disconnected)
		return
	}

	_ = c.state.To(Authenticating)
	identity, err := s.authn.Authenticate(r.Context(), auth.HandshakeFromRequest(r))
	if err != nil {
		reason := auth.Reason(err)
		authFailures.WithLabelValues(reason).Inc()
		c.logger.Info("authentication failed", zap.String("reason", reason), zap.Error(err))
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ServerMisconfigured) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, auth.PublicMessage(err), status)
		_ = c.state.To(Disconnected)
		return
	}
	c.identity = identity

	wsc, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		c.logger.Warn("ws accept", zap.Error(err))
		_ = c.state.To(Disconnected)
		return
	}
	c.ws = wsc
	c.ctx, c.cancel = context.WithCancel(r.Context())
	c.outbox = make(chan []byte, s.opts.OutboxSize)
	c.logger = c.logger.With(zap.String("user", identity.Subject), zap.String("role", string(identity.Role)))

	if !s.track(c) {
		_ = wsc.Close(ws.StatusGoingAway, "server shutting down")
		c.cancel()
		_ = c.state.To(Disconnected)
		return
	}
	defer s.untrack(c)

	if err := s.registry.Register(c.id, identity); err != nil {
		c.logger.Error("register connection", zap.Error(err))
		_ = wsc.Close(ws.StatusInternalError, "registration failed")
		c.cancel()
		_ = c.state.To(Disconnected)
		return
	}
	_ = c.state.To(Authenticated)
	connectionsTotal.Inc()
	c.logger.Info("connected", zap.String("username", identity.Username))

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump()
	}()

	c.Send(rooms.Event{Name: chat.EventAuthenticated, Data: authenticatedPayload{User: identity.View()}})
	s.readLoop(c)

	s.disconnect(c)
	<-pumpDone
}

func (s *Server) readLoop(c *Conn) {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.logger.Debug("read loop ended", zap.Error(err))
			return
		}
		if typ != ws.MessageText {
			framesRejected.WithLabelValues("binary").Inc()
			c.sendError(msgMalformedFrame)
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			framesRejected.WithLabelValues("malformed").Inc()
			c.sendError(msgMalformedFrame)
			continue
		}
		if !c.beginDispatch() {
			// draining; the going-away close is on its way
			continue
		}
		s.dispatch(c, f)
		c.endDispatch()
	}
}

// dispatch handles one inbound event. Events of a connection never run
// concurrently.
func (s *Server) dispatch(c *Conn, f Frame) {
	name := f.Event
	if name != EventJoin && name != EventLeave && name != EventSend {
		name = "unknown"
	}
	ctx, span := tracer.Start(c.ctx, "ws."+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("conn", c.id), attribute.String("user", c.identity.Subject)))
	defer span.End()

	var err error
	switch f.Event {
	case EventJoin:
		var req conversationRequest
		if err = decode(f.Data, &req); err == nil {
			if err = s.chat.Join(ctx, c, req.EnrollmentID); err == nil {
				c.joined[req.EnrollmentID] = struct{}{}
			}
		}
	case EventLeave:
		var req conversationRequest
		if err = decode(f.Data, &req); err == nil {
			if err = s.chat.Leave(ctx, c, req.EnrollmentID); err == nil {
				delete(c.joined, req.EnrollmentID)
			}
		}
	case EventSend:
		var req sendRequest
		if err = decode(f.Data, &req); err == nil {
			err = s.chat.Send(ctx, c, req.EnrollmentID, req.MessageText)
		}
	default:
		framesRejected.WithLabelValues("unknown_event").Inc()
		c.sendError(msgUnknownEvent)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, errMalformedData):
		framesRejected.WithLabelValues("malformed").Inc()
		c.sendError(msgMalformedFrame)
	default:
		span.RecordError(err)
		c.logger.Debug("event rejected", zap.String("event", f.Event), zap.Error(err))
		c.sendError(chat.PublicMessage(err))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(errMalformedData, err)
	}
	return nil
}

// disconnect runs once per connection after the read loop returns.
func (s *Server) disconnect(c *Conn) {
	joined := make([]string, 0, len(c.joined))
	for room := range c.joined {
		joined = append(joined, room)
	}
	s.chat.Disconnect(c, joined)
	s.registry.Unregister(c.id)
	c.close(ws.StatusNormalClosure, "", 0)
	c.cancel()
	_ = c.state.To(Disconnected)
	users, conns := s.registry.Stats()
	c.logger.Info("disconnected", zap.Int("rooms", len(joined)),
		zap.Int("users_online", users), zap.Int("connections_online", conns))
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown refuses new connections, lets every event in flight finish,
// closes every open connection with StatusGoingAway once its queued frames
// are written, and waits for their goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	// Quiesce everyone before closing anyone, so a send in flight still
	// reaches the other members of its room.
	quiesced := make(chan struct{})
	go func() {
		for _, c := range conns {
			c.stopDispatch()
		}
		close(quiesced)
	}()
	select {
	case <-quiesced:
	case <-ctx.Done():
		for _, c := range conns {
			c.cancel()
		}
		return ctx.Err()
	}

	s.logger.Info("closing connections", zap.Int("count", len(conns)))
	for _, c := range conns {
		c.close(ws.StatusGoingAway, "server shutting down", flushTimeout)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.cancel()
		}
		return ctx.Err()
	}
}
