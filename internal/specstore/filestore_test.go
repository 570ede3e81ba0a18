package specstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	internal "github.com/1ambda/dataops-platform-sub014/internal/specstore"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/specstore"
	"github.com/stretchr/testify/assert"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveAndRead", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		location, err := store.Save(ctx, "lake.core.users", models.ManualSourceType, "SELECT 1")
		assert.NoError(t, err)
		assert.Equal(t, filepath.Join("manual", "lake", "core", "users")+".sql", location)

		text, err := store.Read(ctx, location)
		assert.NoError(t, err)
		assert.Equal(t, "SELECT 1", text)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		location, err := store.Save(ctx, "lake.core.users", models.CodeSourceType, "SELECT 1")
		assert.NoError(t, err)
		_, err = store.Save(ctx, "lake.core.users", models.CodeSourceType, "SELECT 2")
		assert.NoError(t, err)

		text, err := store.Read(ctx, location)
		assert.NoError(t, err)
		assert.Equal(t, "SELECT 2", text)
	})

	t.Run("ReadMissing", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		_, err := store.Read(ctx, "manual/lake/core/ghost.sql")
		assert.ErrorIs(t, err, specstore.ErrNotFound)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		location, err := store.Save(ctx, "lake.core.users", models.ManualSourceType, "SELECT 1")
		assert.NoError(t, err)

		updated, err := store.Update(ctx, location, "SELECT 42")
		assert.NoError(t, err)
		assert.Equal(t, location, updated)

		text, err := store.Read(ctx, location)
		assert.NoError(t, err)
		assert.Equal(t, "SELECT 42", text)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		_, err := store.Update(ctx, "manual/lake/core/ghost.sql", "SELECT 1")
		assert.ErrorIs(t, err, specstore.ErrNotFound)
	})

	t.Run("DeleteRemovesFile", func(t *testing.T) {
		root := t.TempDir()
		store := internal.NewFileStore(root)
		location, err := store.Save(ctx, "lake.core.users", models.ManualSourceType, "SELECT 1")
		assert.NoError(t, err)

		assert.NoError(t, store.Delete(ctx, location))
		_, err = os.Stat(filepath.Join(root, location))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		store := internal.NewFileStore(t.TempDir())
		assert.NoError(t, store.Delete(ctx, "manual/lake/core/ghost.sql"))
	})
}
