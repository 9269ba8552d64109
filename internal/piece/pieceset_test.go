package piece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSize_RespectsMaxCount(t *testing.T) {
	t.Parallel()

	cfg := SizeConfig{MinBits: 10, MaxBits: 20, MaxCount: 100}
	size := ComputeSize(100_000_000, cfg)

	pieceCount := 100_000_000 / size
	assert.Less(t, pieceCount, int64(cfg.MaxCount))
	assert.GreaterOrEqual(t, size, int64(1)<<uint(cfg.MinBits))
	assert.LessOrEqual(t, size, int64(1)<<uint(cfg.MaxBits))
}

func TestComputeSize_ClampsToMaxBits(t *testing.T) {
	t.Parallel()

	cfg := SizeConfig{MinBits: 10, MaxBits: 14, MaxCount: 2}
	size := ComputeSize(1_000_000_000, cfg)
	assert.Equal(t, int64(1)<<14, size)
}

func TestBuild_CoversWholeRangeExactlyOnce(t *testing.T) {
	t.Parallel()

	const total = 1000
	pieces := Build(total, 0, 128, DefaultSizeConfig())
	require.NotEmpty(t, pieces)

	var covered int64
	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, covered, p.Start)
		covered = p.End
	}
	assert.Equal(t, int64(total), covered)
}

func TestBuild_MarksOnlyLastPieceLast(t *testing.T) {
	t.Parallel()

	pieces := Build(1000, 0, 128, DefaultSizeConfig())
	for _, p := range pieces[:len(pieces)-1] {
		assert.False(t, p.LastPiece)
	}
	assert.True(t, pieces[len(pieces)-1].LastPiece)
}

func TestBuild_HonorsStartPosition(t *testing.T) {
	t.Parallel()

	pieces := Build(1000, 500, 128, DefaultSizeConfig())
	require.NotEmpty(t, pieces)
	assert.Equal(t, int64(500), pieces[0].Start)
	assert.Equal(t, int64(1000), pieces[len(pieces)-1].End)
}

func TestBuild_EmptyWhenStartAtEnd(t *testing.T) {
	t.Parallel()

	pieces := Build(1000, 1000, 128, DefaultSizeConfig())
	assert.Nil(t, pieces)
}

func TestWorkGroups_CoversEveryPieceExactlyOnce(t *testing.T) {
	t.Parallel()

	pieces := Build(10000, 0, 64, DefaultSizeConfig())
	groups := WorkGroups(pieces, 4, 3)

	seen := make(map[int]bool)
	for _, g := range groups {
		for _, p := range g {
			assert.False(t, seen[p.Index], "piece %d emitted twice", p.Index)
			seen[p.Index] = true
		}
	}
	assert.Len(t, seen, len(pieces))
}

func TestWorkGroups_FrontLoadsAcrossWorkers(t *testing.T) {
	t.Parallel()

	pieces := Build(10000, 0, 64, DefaultSizeConfig())
	groups := WorkGroups(pieces, 4, 2)
	require.GreaterOrEqual(t, len(groups), 4)

	// first `segments` groups should be each worker's first slice, i.e.
	// their minimum indices should be 0,1,2,3 in some order.
	mins := make(map[int64]bool)
	for _, g := range groups[:4] {
		mins[g[0].Start] = true
	}
	assert.Len(t, mins, 4)
}

func TestGroupQueue_PopInOrderUntilEmpty(t *testing.T) {
	t.Parallel()

	pieces := Build(1000, 0, 100, DefaultSizeConfig())
	groups := WorkGroups(pieces, 2, 1)
	q := NewGroupQueue(groups)

	count := 0
	for {
		g, ok := q.Pop()
		if !ok {
			break
		}
		count++
		assert.NotEmpty(t, g)
	}
	assert.Equal(t, len(groups), count)

	_, ok := q.Pop()
	assert.False(t, ok)
}
