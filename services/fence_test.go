package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyFenceCancelsAndWaits(t *testing.T) {
	f := NewCompanyFence()
	ctx, leave, err := f.Enter(context.Background(), "acme")
	require.NoError(t, err)
	_, otherLeave, err := f.Enter(context.Background(), "globex")
	require.NoError(t, err)
	defer otherLeave()
	assert.Equal(t, 1, f.Active("acme"))

	f.Close("acme")
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
	_, _, err = f.Enter(context.Background(), "acme")
	assert.ErrorIs(t, err, models.ErrCompanyDeleting)

	waited := make(chan error, 1)
	go func() { waited <- f.Wait(context.Background(), "acme") }()
	leave()
	leave()
	require.NoError(t, <-waited)
	assert.Zero(t, f.Active("acme"))
	assert.Equal(t, 1, f.Active("globex"))

	f.Reopen("acme")
	_, again, err := f.Enter(context.Background(), "acme")
	require.NoError(t, err)
	again()
}

func TestCompanyFenceWaitHonorsContext(t *testing.T) {
	f := NewCompanyFence()
	_, leave, err := f.Enter(context.Background(), "acme")
	require.NoError(t, err)
	defer leave()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx, "acme"), context.DeadlineExceeded)
}

func TestDocumentLockerLocal(t *testing.T) {
	l := NewDocumentLocker(nil, 0)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.TryLock(ctx, "d2")
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	_, ok, err = l.TryLock(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	path, err := fs.Save("acme", "d1", []byte("%PDF-1.4 data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "acme", "d1.pdf"), path)

	copied, err := fs.Copy(path, "acme", "d2")
	require.NoError(t, err)
	data, err := fs.Read(copied)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 data", string(data))

	outside := filepath.Join(t.TempDir(), "secret.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	_, err = fs.Read(outside)
	assert.Error(t, err)
	require.NoError(t, fs.Remove(outside))
	_, err = os.Stat(outside)
	assert.NoError(t, err, "files outside the upload dir are never removed")

	require.NoError(t, fs.Remove(path))
	require.NoError(t, fs.Remove(path))
	require.NoError(t, fs.RemoveCompany("acme"))
	_, err = os.Stat(filepath.Join(dir, "acme"))
	assert.True(t, os.IsNotExist(err))
}
