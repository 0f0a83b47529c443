// Package chat implements conversation join, leave and send on top of the
// room hub, the access authorizer and the message store.
package chat

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"uppy/chat/internal/access"
	"uppy/chat/internal/auth"
	"uppy/chat/internal/rooms"
	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

var tracer = otel.Tracer("uppy/chat/internal/chat")

// Outbound event names.
const (
	EventAuthenticated = "authenticated"
	EventJoined        = "joined_conversation"
	EventHistory       = "conversation_history"
	EventUserJoined    = "user_joined"
	EventLeft          = "left_conversation"
	EventNewMessage    = "new_message"
	EventError         = "error"
)

// Conn is an authenticated connection as seen by the chat service.
type Conn interface {
	rooms.Member
	Identity() auth.Identity
}

type Options struct {
	HistoryLimit int
	// MaxMessageLength in runes; 0 disables the check.
	MaxMessageLength int
	// PersistTimeout bounds a message write. The write outlives the
	// caller's context so a disconnect or shutdown cannot drop it.
	PersistTimeout time.Duration
}

type Service struct {
	hub    *rooms.Hub
	authz  access.Authorizer
	store  store.MessageStore
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(hub *rooms.Hub, authz access.Authorizer, ms store.MessageStore, opts Options, logger *zap.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &Service{
		hub:    hub,
		authz:  authz,
		store:  ms,
		opts:   opts,
		logger: logger.With(zap.String("component", "chat")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type userSummary struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
}

type conversationRef struct {
	EnrollmentID string `json:"enrollment_id"`
}

type historyPayload struct {
	EnrollmentID string          `json:"enrollment_id"`
	Messages     []types.Message `json:"messages"`
}

type userJoinedPayload struct {
	User         userSummary `json:"user"`
	EnrollmentID string      `json:"enrollment_id"`
}

// NewMessage is the broadcast form of a message.
type NewMessage struct {
	types.Message
	SenderUsername string `json:"sender_username"`
}

// Join authorizes c for conversationID, adds it to the room, then sends the
// confirmation and history to c and a user_joined notice to the others.
func (s *Service) Join(ctx context.Context, c Conn, conversationID string) error {
	ctx, span := tracer.Start(ctx, "chat.Join")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	if conversationID == "" {
		return MissingEnrollmentID
	}
	if err := s.authorize(ctx, c.Identity(), conversationID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	id := c.Identity()
	others := s.hub.Join(conversationID, c)
	s.logger.Debug("joined conversation",
		zap.String("conn", c.ID()), zap.String("user", id.Username), zap.String("conversation_id", conversationID))

	c.Send(rooms.Event{Name: EventJoined, Data: conversationRef{EnrollmentID: conversationID}})
	c.Send(rooms.Event{Name: EventHistory, Data: historyPayload{
		EnrollmentID: conversationID,
		Messages:     s.history(ctx, conversationID),
	}})

	notice := rooms.Event{Name: EventUserJoined, Data: userJoinedPayload{
		User:         userSummary{ID: id.Subject, Username: id.Username, Role: id.Role},
		EnrollmentID: conversationID,
	}}
	for _, m := range others {
		m.Send(notice)
	}
	return nil
}

// Leave removes c from conversationID. Leaving a room c is not in still
// answers left_conversation.
func (s *Service) Leave(ctx context.Context, c Conn, conversationID string) error {
	if conversationID == "" {
		return MissingEnrollmentID
	}
	s.hub.Leave(conversationID, c.ID())
	c.Send(rooms.Event{Name: EventLeft, Data: conversationRef{EnrollmentID: conversationID}})
	return nil
}

// Send persists text as a new message in conversationID and broadcasts it to
// every member, sender included. A failed write is logged and the message is
// still delivered.
func (s *Service) Send(ctx context.Context, c Conn, conversationID, text string) error {
	ctx, span := tracer.Start(ctx, "chat.Send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	if conversationID == "" || text == "" {
		return MissingMessageFields
	}
	if s.opts.MaxMessageLength > 0 && utf8.RuneCountInString(text) > s.opts.MaxMessageLength {
		return MessageTooLong
	}
	if !s.hub.IsMember(conversationID, c.ID()) {
		accessDenials.WithLabelValues("not_joined").Inc()
		return NotJoined
	}
	id := c.Identity()
	if err := s.authorize(ctx, id, conversationID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	msg := types.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       id.Subject,
		SenderType:     id.Role,
		Text:           text,
		CreatedAt:      types.Timestamp(s.now()),
	}
	span.SetAttributes(attribute.String("message_id", msg.ID))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
	err := s.store.Put(pctx, msg)
	cancel()
	if err != nil {
		persistFailures.Inc()
		s.logger.Warn("persist message failed, delivering anyway",
			zap.String("message_id", msg.ID), zap.String("conversation_id", conversationID), zap.Error(err))
	}

	n := s.hub.Broadcast(conversationID, rooms.Event{
		Name: EventNewMessage,
		Data: NewMessage{Message: msg, SenderUsername: id.Username},
	}, "")
	messagesSent.Inc()
	s.logger.Debug("message sent",
		zap.String("message_id", msg.ID), zap.String("conversation_id", conversationID), zap.Int("recipients", n))
	return nil
}

// Disconnect drops c from every room in joined.
func (s *Service) Disconnect(c Conn, joined []string) {
	s.hub.LeaveAll(c.ID(), joined)
}

func (s *Service) authorize(ctx context.Context, id auth.Identity, conversationID string) error {
	if !access.RequiresOwnershipCheck(id.Role) {
		return nil
	}
	if id.MainInfluencerID == "" {
		accessDenials.WithLabelValues("invalid_influencer_config").Inc()
		return InvalidInfluencerConfig
	}
	ok, err := s.authz.Check(ctx, conversationID, id.MainInfluencerID)
	if err != nil {
		accessDenials.WithLabelValues("lookup_error").Inc()
		s.logger.Error("verify influencer access failed",
			zap.String("conversation_id", conversationID), zap.String("user", id.Subject), zap.Error(err))
		return fmt.Errorf("%w: %v", AccessUnverified, err)
	}
	if !ok {
		accessDenials.WithLabelValues("denied").Inc()
		return Denied
	}
	return nil
}

// history loads the latest messages oldest-first. Failures yield an empty
// list.
func (s *Service) history(ctx context.Context, conversationID string) []types.Message {
	msgs, err := s.store.History(ctx, conversationID, s.opts.HistoryLimit)
	if err != nil {
		historyFallbacks.Inc()
		s.logger.Warn("load history failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return []types.Message{}
	}
	if msgs == nil {
		return []types.Message{}
	}
	msgs = slices.Clone(msgs)
	slices.Reverse(msgs)
	return msgs
}
