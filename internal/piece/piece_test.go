package piece

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPiece_ReadAfterComplete(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 8)
	p.Write([]byte("testdata"))
	p.SetComplete()

	got, err := p.Read(1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("testdata"), got)

	// buffer exhausted and complete: further reads return empty, nil.
	got, err = p.Read(1024)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPiece_ReadBlocksUntilWrite(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 4)

	done := make(chan []byte, 1)
	go func() {
		d, err := p.Read(4)
		assert.NoError(t, err)
		done <- d
	}()

	time.Sleep(20 * time.Millisecond)
	p.Write([]byte("abcd"))
	p.SetComplete()

	select {
	case d := <-done:
		assert.Equal(t, []byte("abcd"), d)
	case <-time.After(2 * time.Second):
		t.Fatal("Read never unblocked after Write")
	}
}

func TestPiece_FailSurfacesError(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 4)
	wantErr := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		_, err := p.Read(4)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Fail(wantErr)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Read never unblocked after Fail")
	}
}

func TestPiece_SetCompleteIdempotent(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 4)
	p.SetComplete()
	p.SetComplete() // must not panic (double close)

	got, err := p.Read(4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPiece_SequentialReadReassembly(t *testing.T) {
	t.Parallel()

	original := []byte("the quick brown fox jumps over the lazy dog")
	p := New(0, 0, int64(len(original)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < len(original); i += 5 {
			end := i + 5
			if end > len(original) {
				end = len(original)
			}
			p.Write(original[i:end])
			time.Sleep(time.Millisecond)
		}
		p.SetComplete()
	}()

	var out []byte
	for {
		chunk, err := p.Read(3)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}

	wg.Wait()
	assert.Equal(t, original, out)
}

func TestPiece_AdmissionGate(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 1)
	assert.False(t, p.GateOpen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan bool, 1)
	go func() {
		opened <- p.WaitGate(ctx, 500*time.Millisecond)
	}()

	time.Sleep(10 * time.Millisecond)
	p.OpenGate()
	p.OpenGate() // idempotent, must not panic

	assert.True(t, <-opened)
	assert.True(t, p.GateOpen())
}

func TestPiece_WaitGateTimesOutWithoutOpen(t *testing.T) {
	t.Parallel()

	p := New(0, 0, 1)
	ctx := context.Background()

	start := time.Now()
	ok := p.WaitGate(ctx, 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
