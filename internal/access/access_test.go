package access

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

type failingSource struct{ err error }

func (f failingSource) Enrollment(context.Context, string) (types.Enrollment, error) {
	return types.Enrollment{}, f.err
}

func TestCheckOwnership(t *testing.T) {
	a := NewEnrollmentAuthorizer(store.NewEnrollments(map[string]string{"enr-1": "inf-1"}), false, zap.NewNop())
	ctx := context.Background()

	ok, err := a.Check(ctx, "enr-1", "inf-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Check(ctx, "enr-1", "inf-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Check(ctx, "enr-404", "inf-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Check(ctx, "enr-1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckFailsClosed(t *testing.T) {
	a := NewEnrollmentAuthorizer(failingSource{err: errors.New("connection reset")}, true, zap.NewNop())
	ok, err := a.Check(context.Background(), "enr-1", "inf-1")
	assert.Error(t, err)
	assert.False(t, ok, "generic lookup errors deny even in fail-open mode")

	unavailable := fmt.Errorf("scan enrollments: %w", store.ErrUnavailable)
	a = NewEnrollmentAuthorizer(failingSource{err: unavailable}, false, zap.NewNop())
	ok, err = a.Check(context.Background(), "enr-1", "inf-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, ok)
}

func TestCheckDevModeFailOpen(t *testing.T) {
	unavailable := fmt.Errorf("scan enrollments: %w", store.ErrUnavailable)
	a := NewEnrollmentAuthorizer(failingSource{err: unavailable}, true, zap.NewNop())
	ok, err := a.Check(context.Background(), "enr-1", "inf-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequiresOwnershipCheck(t *testing.T) {
	assert.False(t, RequiresOwnershipCheck(types.RoleOperations))
	assert.True(t, RequiresOwnershipCheck(types.RoleInfluencer))
	assert.True(t, RequiresOwnershipCheck(types.Role("")))
}
