package identity

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"computemesh/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "identities.db"), Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStoreAddAndAuthenticate(t *testing.T) {
	store := openTestStore(t)

	token, err := store.Add("gpu-7", domain.RoleProvider)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "gpu-7."))

	principal, err := store.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, domain.Principal{Identity: "gpu-7", Role: domain.RoleProvider}, principal)
}

func TestStoreAuthenticateRejects(t *testing.T) {
	store := openTestStore(t)
	token, err := store.Add("gpu-7", domain.RoleProvider)
	require.NoError(t, err)

	for _, bad := range []string{
		"",
		"gpu-7",
		"gpu-7.",
		".secret",
		"gpu-7.wrong-secret",
		"unknown." + token[strings.LastIndex(token, ".")+1:],
	} {
		_, err := store.Authenticate(context.Background(), bad)
		require.ErrorIs(t, err, domain.ErrUnauthenticated, bad)
	}
}

func TestStoreIdentityWithDots(t *testing.T) {
	store := openTestStore(t)
	token, err := store.Add("node.eu-west.3", domain.RolePlain)
	require.NoError(t, err)

	principal, err := store.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, domain.Identity("node.eu-west.3"), principal.Identity)
}

func TestStoreDuplicateAndRemove(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Add("a", domain.RolePlain)
	require.NoError(t, err)
	_, err = store.Add("a", domain.RoleProvider)
	require.ErrorIs(t, err, domain.ErrIdentityExists)

	require.NoError(t, store.Remove("a"))
	require.ErrorIs(t, store.Remove("a"), domain.ErrIdentityNotFound)
}

func TestStoreListOmitsHashes(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Add("b", domain.RoleProvider)
	require.NoError(t, err)
	_, err = store.Add("a", domain.RolePlain)
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, domain.Identity("a"), records[0].Identity)
	require.Equal(t, domain.Identity("b"), records[1].Identity)
	for _, record := range records {
		require.Empty(t, record.TokenHash)
		require.False(t, record.CreatedAt.IsZero())
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.db")
	store, err := OpenStore(path, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	token, err := store.Add("gpu-1", domain.RoleProvider)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.List()
	require.ErrorIs(t, err, ErrStoreClosed)

	reopened, err := OpenStore(path, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	defer reopened.Close()
	principal, err := reopened.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, domain.RoleProvider, principal.Role)
}

func TestStoreRejectsBlankIdentity(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Add(" ", domain.RolePlain)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}
