package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

func TestStore_Save(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	root := t.TempDir()
	s, err := NewStore(root)
	require.NoError(t, err)

	ref, err := s.Save(context.Background(), []byte("png-data"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "2026/03/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ref)))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-data"), data)

	other, err := s.Save(context.Background(), []byte("png-data"), "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}

func TestStore_RejectsUnknownType(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save(context.Background(), []byte("x"), "application/pdf")
	assert.True(t, domain.IsValidation(err))
}

func TestStore_CancelledContext(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, []byte("x"), "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Delete(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	require.NoError(t, err)

	ref, err := s.Save(context.Background(), []byte("png-data"), "image/png")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), ref))
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(ref)))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Already gone.
	assert.NoError(t, s.Delete(context.Background(), ref))
}

func TestStore_DeleteRejectsEscapingRefs(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "../outside.png", "/etc/passwd"} {
		assert.Error(t, s.Delete(context.Background(), ref), ref)
	}
}
