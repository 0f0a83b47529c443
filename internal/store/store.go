package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"uppy/chat/internal/types"
)

var (
	// ErrUnavailable marks backend credential or configuration failures.
	// Callers may degrade instead of failing hard when they see it.
	ErrUnavailable = errors.New("store unavailable")
	ErrNotFound    = errors.New("not found")
)

// MessageStore persists chat messages per conversation.
type MessageStore interface {
	// Put writes one message keyed by its id. Writing the same id twice is
	// safe.
	Put(ctx context.Context, msg types.Message) error
	// History returns at most limit messages, newest first.
	History(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
}

// EnrollmentSource resolves the enrollment that owns a conversation.
type EnrollmentSource interface {
	// Enrollment returns ErrNotFound when no enrollment has the id.
	Enrollment(ctx context.Context, enrollmentID string) (types.Enrollment, error)
}

// Memory is an in-process MessageStore. Messages are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	byConv map[string][]types.Message
	ids    map[string]struct{}
	// cap per conversation; oldest messages are dropped past it
	maxPerConversation int
}

func NewMemory(maxPerConversation int) *Memory {
	return &Memory{
		byConv:             make(map[string][]types.Message),
		ids:                make(map[string]struct{}),
		maxPerConversation: maxPerConversation,
	}
}

func (s *Memory) Put(ctx context.Context, msg types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[msg.ID]; ok {
		return nil
	}
	s.ids[msg.ID] = struct{}{}
	list := append(s.byConv[msg.ConversationID], msg)
	if n := len(list); n > 1 && list[n-2].CreatedAt > msg.CreatedAt {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	}
	if s.maxPerConversation > 0 && len(list) > s.maxPerConversation {
		dropped := len(list) - s.maxPerConversation
		for _, m := range list[:dropped] {
			delete(s.ids, m.ID)
		}
		list = append([]types.Message(nil), list[dropped:]...)
	}
	s.byConv[msg.ConversationID] = list
	return nil
}

func (s *Memory) History(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byConv[conversationID]
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	out := make([]types.Message, 0, limit)
	for i := len(src) - 1; i >= len(src)-limit; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

// Enrollments is a static EnrollmentSource for local development.
type Enrollments struct {
	mu   sync.RWMutex
	byID map[string]types.Enrollment
}

// NewEnrollments builds a source from enrollment_id -> influencer_id pairs.
func NewEnrollments(owners map[string]string) *Enrollments {
	e := &Enrollments{byID: make(map[string]types.Enrollment, len(owners))}
	for id, owner := range owners {
		e.Set(types.Enrollment{ID: id, InfluencerID: owner})
	}
	return e
}

// Set adds or replaces an enrollment.
func (e *Enrollments) Set(en types.Enrollment) {
	e.mu.Lock()
	e.byID[en.ID] = en
	e.mu.Unlock()
}

func (e *Enrollments) Enrollment(ctx context.Context, enrollmentID string) (types.Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return types.Enrollment{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.byID[enrollmentID]
	if !ok {
		return types.Enrollment{}, ErrNotFound
	}
	return en, nil
}
