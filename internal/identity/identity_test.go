package identity

import (
	"testing"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/stretchr/testify/require"
)

func TestBootstrapCreatesFirstAdmin(t *testing.T) {
	s := NewStore()
	user, token, err := s.Bootstrap("alice")
	require.NoError(t, err)
	require.True(t, user.Admin)
	require.NotEmpty(t, token)

	got, ok := s.Authenticate(token)
	require.True(t, ok)
	require.Equal(t, user, got)
}

func TestBootstrapRejectsSecondCall(t *testing.T) {
	s := NewStore()
	_, _, err := s.Bootstrap("alice")
	require.NoError(t, err)

	_, _, err = s.Bootstrap("bob")
	require.Error(t, err)
	require.Equal(t, converrors.Conflict, converrors.KindOf(err))
}

func TestCreateUserRejectsDuplicateHandle(t *testing.T) {
	s := NewStore()
	_, _, err := s.CreateUser("bob", false)
	require.NoError(t, err)

	_, _, err = s.CreateUser("bob", false)
	require.Error(t, err)
	require.Equal(t, converrors.Conflict, converrors.KindOf(err))
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	s := NewStore()
	_, ok := s.Authenticate("not-a-real-token")
	require.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	user, token, err := s.Bootstrap("alice")
	require.NoError(t, err)

	users, tokens := s.Snapshot()

	restored := NewStore()
	restored.Restore(users, tokens)
	got, ok := restored.Authenticate(token)
	require.True(t, ok)
	require.Equal(t, user, got)
}

func TestACLHelpers(t *testing.T) {
	require.True(t, CanRead("alice", "alice", nil, nil))
	require.True(t, CanRead("bob", "alice", []string{"bob"}, nil))
	require.False(t, CanRead("carol", "alice", []string{"bob"}, nil))

	require.True(t, CanPublish("alice", "alice", nil))
	require.True(t, CanPublish("bob", "alice", []string{"bob"}))
	require.False(t, CanPublish("carol", "alice", []string{"bob"}))

	require.True(t, CanAdminister("alice", "alice"))
	require.False(t, CanAdminister("bob", "alice"))
}
