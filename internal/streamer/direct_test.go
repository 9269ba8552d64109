package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnDoee/thomas/internal/graph"
)

type noopHandle struct{}

func (noopHandle) Seek(pos int64) error   { return nil }
func (noopHandle) Read(n int) ([]byte, error) { return nil, nil }
func (noopHandle) Close() error           { return nil }

func newReadableItem(id string, size int64) *graph.Item {
	it := graph.New(id, map[string]any{"size": size})
	it.Readable = true
	return it
}

func TestDirectStreamer_PicksBiggestMatchingDescendant(t *testing.T) {
	router := graph.NewRouter()
	router.RegisterHandler("fs", func(item *graph.Item, kwargs map[string]any) (any, error) {
		return noopHandle{}, nil
	}, true, false, false)

	root := graph.New("root", nil)
	root.Expandable = true
	root.WithRouter(router)

	small := newReadableItem("small.mkv", 100)
	small.WithRouter(router)
	small.AddRoute("fs", true, false, false, 0, nil)

	big := newReadableItem("big.mkv", 9000)
	big.WithRouter(router)
	big.AddRoute("fs", true, false, false, 0, nil)

	ignored := newReadableItem("readme.txt", 99999)
	ignored.WithRouter(router)
	ignored.AddRoute("fs", true, false, false, 0, nil)

	root.AddItem(small)
	root.AddItem(big)
	root.AddItem(ignored)
	root.Children = []*graph.Item{small, big, ignored}

	factory := NewDirectHandlerFactory([]string{"mkv", "mp4"})
	streamerAny, err := factory(root, nil)
	require.NoError(t, err)
	ds := streamerAny.(*DirectStreamer)

	score, ok := ds.Evaluate()
	require.True(t, ok)
	assert.Equal(t, int64(9000), score)
}

func TestDirectStreamer_NoMatchReturnsFalse(t *testing.T) {
	root := graph.New("root", nil)
	root.Children = []*graph.Item{}

	factory := NewDirectHandlerFactory([]string{"mkv"})
	streamerAny, err := factory(root, nil)
	require.NoError(t, err)
	ds := streamerAny.(*DirectStreamer)

	_, ok := ds.Evaluate()
	assert.False(t, ok)
}

func TestDirectStreamer_EmptyExtensionListAllowsAny(t *testing.T) {
	root := graph.New("root", nil)
	item := newReadableItem("anything.bin", 42)
	root.Children = []*graph.Item{item}

	factory := NewDirectHandlerFactory(nil)
	streamerAny, _ := factory(root, nil)
	ds := streamerAny.(*DirectStreamer)

	score, ok := ds.Evaluate()
	require.True(t, ok)
	assert.Equal(t, int64(42), score)
}
