// Package access decides whether a caller may take part in a conversation.
//
// Operations staff have blanket access to every conversation; this is a
// product policy, expressed by RequiresOwnershipCheck. Influencers may only
// use conversations whose enrollment they own. Lookups fail closed unless the
// operator explicitly enables fail-open for unavailable backends.
package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

// Authorizer answers whether mainInfluencerID may use conversationID. A
// non-nil error always comes with false.
type Authorizer interface {
	Check(ctx context.Context, conversationID, mainInfluencerID string) (bool, error)
}

// OperationsFullAccess grants the operations role every conversation
// without an enrollment lookup.
const OperationsFullAccess = true

// RequiresOwnershipCheck reports whether role is scoped to owned
// enrollments.
func RequiresOwnershipCheck(role types.Role) bool {
	if role == types.RoleOperations {
		return !OperationsFullAccess
	}
	return true
}

// EnrollmentAuthorizer compares the enrollment owner with the caller's main
// influencer id.
type EnrollmentAuthorizer struct {
	source   store.EnrollmentSource
	failOpen bool
	logger   *zap.Logger
}

var _ Authorizer = (*EnrollmentAuthorizer)(nil)

// NewEnrollmentAuthorizer builds an authorizer over source. failOpen only
// applies to lookups failing with store.ErrUnavailable and must stay false in
// production.
func NewEnrollmentAuthorizer(source store.EnrollmentSource, failOpen bool, logger *zap.Logger) *EnrollmentAuthorizer {
	logger = logger.With(zap.String("component", "access"))
	if failOpen {
		logger.Warn("dev mode fail-open enabled: access is granted when the enrollment store is unavailable")
	}
	return &EnrollmentAuthorizer{source: source, failOpen: failOpen, logger: logger}
}

func (a *EnrollmentAuthorizer) Check(ctx context.Context, conversationID, mainInfluencerID string) (bool, error) {
	if conversationID == "" || mainInfluencerID == "" {
		checksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}
	en, err := a.source.Enrollment(ctx, conversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		checksTotal.WithLabelValues("denied").Inc()
		return false, nil
	case errors.Is(err, store.ErrUnavailable) && a.failOpen:
		checksTotal.WithLabelValues("fail_open").Inc()
		a.logger.Warn("enrollment store unavailable, allowing access (dev mode fail-open)",
			zap.String("enrollment_id", conversationID), zap.Error(err))
		return true, nil
	case err != nil:
		checksTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("lookup enrollment %s: %w", conversationID, err)
	}
	if en.InfluencerID != mainInfluencerID {
		checksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}
	checksTotal.WithLabelValues("allowed").Inc()
	return true, nil
}
