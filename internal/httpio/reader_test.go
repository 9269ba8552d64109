package httpio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// rangeServer serves `content` honoring single and multi-range GETs, and
// reports Content-Length on HEAD, in the style expected from a plain static
// file server fronting the segmented reader.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/file.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="file.bin"`)

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.Write(content)
			return
		}

		ranges := parseRangesForTest(t, rangeHeader, len(content))
		w.WriteHeader(http.StatusPartialContent)
		for _, rg := range ranges {
			w.Write(content[rg[0] : rg[1]+1])
		}
	})

	return httptest.NewServer(mux)
}

func parseRangesForTest(t *testing.T, header string, total int) [][2]int {
	t.Helper()
	header = strings.TrimPrefix(header, "bytes=")
	var out [][2]int
	for _, part := range strings.Split(header, ",") {
		var a, b int
		_, err := fmt.Sscanf(part, "%d-%d", &a, &b)
		require.NoError(t, err)
		if b >= total {
			b = total - 1
		}
		out = append(out, [2]int{a, b})
	}
	return out
}

func TestReader_ProbeExtractsSizeAndFilename(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("x", 5000))
	srv := rangeServer(t, content)
	defer srv.Close()

	r, err := New(context.Background(), srv.URL+"/file.bin", DefaultOptions())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(len(content)), r.Probe().Size)
	assert.Equal(t, "file.bin", r.Probe().Filename)
}

func TestReader_SequentialReadReconstructsContent(t *testing.T) {
	t.Parallel()

	content := make([]byte, 50000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	srv := rangeServer(t, content)
	defer srv.Close()

	opts := DefaultOptions()
	opts.Segments = 4
	opts.SizeConfig.MinBits = 10
	opts.SizeConfig.MaxBits = 12

	r, err := New(context.Background(), srv.URL+"/file.bin", opts)
	require.NoError(t, err)
	defer r.Close()

	var out []byte
	deadline := time.After(10 * time.Second)
	for {
		chunk, err := r.Read(4096)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
		select {
		case <-deadline:
			t.Fatal("timed out reconstructing content")
		default:
		}
	}

	assert.Equal(t, content, out)
}

func TestReader_SeekOnlyOnceBeforeRead(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("y", 2000))
	srv := rangeServer(t, content)
	defer srv.Close()

	r, err := New(context.Background(), srv.URL+"/file.bin", DefaultOptions())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Seek(500))
	err = r.Seek(0)
	assert.Error(t, err)
}

func TestReader_SeekMidFileReadsSuffix(t *testing.T) {
	t.Parallel()

	content := make([]byte, 20000)
	for i := range content {
		content[i] = byte(i % 256)
	}
	srv := rangeServer(t, content)
	defer srv.Close()

	opts := DefaultOptions()
	opts.SizeConfig.MinBits = 10
	opts.SizeConfig.MaxBits = 12

	r, err := New(context.Background(), srv.URL+"/file.bin", opts)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Seek(10000))

	var out []byte
	for {
		chunk, err := r.Read(4096)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}

	assert.Equal(t, content[10000:], out)
}

func TestReader_MissingContentLengthIsInvalidInput(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/nolength", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(context.Background(), srv.URL+"/nolength", DefaultOptions())
	assert.True(t, apperror.IsInvalidInput(err), "got %v", err)
}

func TestReader_CloseStopsWorkers(t *testing.T) {
	t.Parallel()

	content := make([]byte, 100000)
	srv := rangeServer(t, content)
	defer srv.Close()

	r, err := New(context.Background(), srv.URL+"/file.bin", DefaultOptions())
	require.NoError(t, err)

	_, err = r.Read(10)
	require.NoError(t, err)

	require.NoError(t, r.Close())

	_, err = r.Read(10)
	assert.ErrorIs(t, err, apperror.ErrCancelled)
}
