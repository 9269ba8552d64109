package fileio

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnDoee/thomas/internal/apperror"
)

func newTestFile(t *testing.T, content []byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data.bin", content, 0o644))
	return fs
}

func TestFileReader_ImplicitSeekZero(t *testing.T) {
	t.Parallel()

	fs := newTestFile(t, []byte("hello world"))
	r := New(fs, "/data.bin")
	defer r.Close()

	got, err := r.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFileReader_SeekThenRead(t *testing.T) {
	t.Parallel()

	fs := newTestFile(t, []byte("0123456789"))
	r := New(fs, "/data.bin")
	defer r.Close()

	require.NoError(t, r.Seek(5))
	got, err := r.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), got)
}

func TestFileReader_SecondSeekFails(t *testing.T) {
	t.Parallel()

	fs := newTestFile(t, []byte("abcdef"))
	r := New(fs, "/data.bin")
	defer r.Close()

	require.NoError(t, r.Seek(1))
	err := r.Seek(2)
	assert.Error(t, err)
}

func TestFileReader_ReadPastEndReturnsEmpty(t *testing.T) {
	t.Parallel()

	fs := newTestFile(t, []byte("abc"))
	r := New(fs, "/data.bin")
	defer r.Close()

	_, err := r.Read(3)
	require.NoError(t, err)

	got, err := r.Read(3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileReader_CloseIdempotent(t *testing.T) {
	t.Parallel()

	fs := newTestFile(t, []byte("abc"))
	r := New(fs, "/data.bin")

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Read(1)
	assert.ErrorIs(t, err, apperror.ErrCancelled)
}

func TestFileReader_MissingFileIsInvalidInput(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r := New(fs, "/missing.bin")

	_, err := r.Read(1)
	assert.True(t, apperror.IsInvalidInput(err), "got %v", err)
}
