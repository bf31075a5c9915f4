// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// Run exercises s against the Store contract. s must be empty with its schema
// ensured.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("apps", func(t *testing.T) {
		require.NoError(t, s.CreateApp(ctx, store.App{UserID: 1, AppID: 10, Name: "todo"}))
		require.NoError(t, s.CreateApp(ctx, store.App{UserID: 1, AppID: 11, Name: "blog"}))
		require.NoError(t, s.CreateApp(ctx, store.App{UserID: 2, AppID: 10, Name: "other"}))

		err := s.CreateApp(ctx, store.App{UserID: 1, AppID: 10, Name: "dup"})
		assert.ErrorIs(t, err, werr.ErrAlreadyExists)
		assert.ErrorIs(t, s.CreateApp(ctx, store.App{UserID: 0, AppID: 1}), werr.ErrInvalidArgument)

		got, err := s.GetApp(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, "todo", got.Name)
		assert.False(t, got.CreatedAt.IsZero())

		apps, err := s.ListApps(ctx, 1)
		require.NoError(t, err)
		require.Len(t, apps, 2)
		assert.Equal(t, int64(10), apps[0].AppID)
		assert.Equal(t, int64(11), apps[1].AppID)

		require.NoError(t, s.DeleteApp(ctx, 1, 10))
		_, err = s.GetApp(ctx, 1, 10)
		assert.ErrorIs(t, err, werr.ErrNotFound)
		assert.ErrorIs(t, s.DeleteApp(ctx, 1, 10), werr.ErrNotFound)

		apps, err = s.ListApps(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, apps)
	})

	t.Run("ports", func(t *testing.T) {
		_, err := s.CurrentPort(ctx, 5)
		assert.ErrorIs(t, err, werr.ErrNotFound)

		require.NoError(t, s.AssignPort(ctx, 5, 30005))
		port, err := s.CurrentPort(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 30005, port)

		// reassigning replaces
		require.NoError(t, s.AssignPort(ctx, 5, 30050))
		port, err = s.CurrentPort(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 30050, port)

		assert.ErrorIs(t, s.AssignPort(ctx, 6, 30050), werr.ErrAlreadyExists)
		assert.ErrorIs(t, s.AssignPort(ctx, 6, 70000), werr.ErrInvalidArgument)
		require.NoError(t, s.AssignPort(ctx, 6, 30006))

		list, err := s.ListAssignments(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, int64(5), list[0].UserID)

		require.NoError(t, s.ReleasePort(ctx, 5))
		assert.ErrorIs(t, s.ReleasePort(ctx, 5), werr.ErrNotFound)
		_, err = s.CurrentPort(ctx, 5)
		assert.ErrorIs(t, err, werr.ErrNotFound)
	})
}
