package piece

// SizeConfig overrides the default piece-size search (spec §3): choose the
// smallest power of two in [2^MinBits, 2^MaxBits] that yields fewer than
// MaxCount pieces. Restored from the original implementation's
// calc_piece_size(min_piece_size, max_piece_size, max_piece_count), which
// the distilled spec fixed at [20,28]/1000 but which the original exposed
// as overridable.
type SizeConfig struct {
	MinBits  int
	MaxBits  int
	MaxCount int
}

// DefaultSizeConfig matches spec §3's fixed default.
func DefaultSizeConfig() SizeConfig {
	return SizeConfig{MinBits: 20, MaxBits: 28, MaxCount: 1000}
}

// ComputeSize picks a piece size for size bytes per the SizeConfig rule.
func ComputeSize(size int64, cfg SizeConfig) int64 {
	if cfg.MaxBits <= cfg.MinBits {
		cfg = DefaultSizeConfig()
	}

	bits := cfg.MinBits
	for ; bits < cfg.MaxBits; bits++ {
		if size/(int64(1)<<uint(bits)) < int64(cfg.MaxCount) {
			break
		}
	}
	return int64(1) << uint(bits)
}

// Build enumerates the pieces covering [startPosition, totalSize), marking
// the last one. pieceSize of 0 picks a size via ComputeSize with sizeCfg; a
// zero SizeConfig there means the default.
func Build(totalSize, startPosition int64, pieceSize int64, sizeCfg SizeConfig) []*Piece {
	remaining := totalSize - startPosition
	if remaining <= 0 {
		return nil
	}

	if pieceSize <= 0 {
		pieceSize = ComputeSize(remaining, sizeCfg)
	}

	count := int((remaining + pieceSize - 1) / pieceSize)
	pieces := make([]*Piece, 0, count)

	for i := 0; i < count; i++ {
		start := int64(i)*pieceSize + startPosition
		end := start + pieceSize
		if end > totalSize {
			end = totalSize
		}
		pieces = append(pieces, New(i, start, end))
	}

	pieces[len(pieces)-1].LastPiece = true

	return pieces
}

// WorkGroups stripes pieces across `segments` workers by round-robin index
// (worker s gets indices i where i%segments==s), then cuts each worker's
// stripe into slices of groupSize, and finally interleaves the resulting
// groups across workers so worker 0's first group, worker 1's first
// group, ... worker 0's second group, ... is the pop order. This
// front-loads bytes near startPosition, minimizing time-to-first-byte for
// sequential readers (spec §4.2).
func WorkGroups(pieces []*Piece, segments, groupSize int) [][]*Piece {
	if segments <= 0 {
		segments = 1
	}
	if groupSize <= 0 {
		groupSize = 100
	}

	stripes := make([][]*Piece, segments)
	for i, p := range pieces {
		s := i % segments
		stripes[s] = append(stripes[s], p)
	}

	var groups [][]*Piece
	offsets := make([]int, segments)
	for {
		emittedAny := false
		for s := 0; s < segments; s++ {
			stripe := stripes[s]
			off := offsets[s]
			if off >= len(stripe) {
				continue
			}

			end := off + groupSize
			if end > len(stripe) {
				end = len(stripe)
			}

			groups = append(groups, stripe[off:end])
			offsets[s] = end
			emittedAny = true
		}

		if !emittedAny {
			break
		}
	}

	return groups
}
