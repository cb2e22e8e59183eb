// Package memmap reconciles the raw, possibly overlapping memory regions
// reported by the bootloader (BIOS E820 via multiboot, in our case) into a
// sorted, gap-free description of which physical ranges are usable.
package memmap

import "sort"

// Kind classifies a physical range.
type Kind uint8

const (
	// Reserved ranges must never be handed out by the frame allocator.
	Reserved Kind = iota
	// Usable ranges are entirely free RAM.
	Usable
	// Partial ranges contain a mix of usable and reserved memory at a
	// finer granularity than this chunk boundary (the buddy allocator's
	// add_blocks/mark_blocks recursion is what actually resolves this).
	Partial
)

// Region is one raw record reported by the bootloader, already translated
// out of multiboot's wire format.
type Region struct {
	Base      uint64
	Size      uint64
	Available bool
}

// Chunk is a point in the reconciled map: the range starting at Base (and
// ending at the next chunk's Base, or infinity for the last chunk) has the
// given Kind.
type Chunk struct {
	Base uint64
	Kind Kind
}

// Map is the reconciled, sorted memory map.
type Map struct {
	chunks []Chunk
}

// combine resolves the kind of an overlapped range: Usable loses to
// anything it overlaps, identical kinds stay put, anything else collapses
// to Reserved.
func combine(a, b Kind) Kind {
	if a == Usable {
		return b
	}
	if b == Usable {
		return a
	}
	if a == b {
		return a
	}
	return Reserved
}

// Reconcile sorts a copy of the given regions by base address and walks them
// pairwise, producing a coalesced, gap-free Map. Gaps between regions are
// filled in as Reserved, since a range the BIOS didn't report cannot be
// assumed to be RAM.
func Reconcile(regions []Region) *Map {
	sorted := make([]Region, len(regions))
	copy(sorted, regions)
	m := ReconcileInPlace(sorted, make([]Chunk, 0, len(regions)*2+2))
	return &m
}

// isort sorts regions by base address in place. Insertion sort: the boot
// path runs before the Go allocator is online and sort.Slice's swapper is
// off limits there, and a bootloader map is a few dozen entries at most.
func isort(regions []Region) {
	for i := 1; i < len(regions); i++ {
		for j := i; j > 0 && regions[j].Base < regions[j-1].Base; j-- {
			regions[j], regions[j-1] = regions[j-1], regions[j]
		}
	}
}

func kindOf(r Region) Kind {
	if r.Available {
		return Usable
	}
	return Reserved
}

// ReconcileInPlace is Reconcile for the early boot path: it sorts regions in
// place and builds the chunk list in chunkBuf's backing array, so a caller
// running before the Go allocator is online can hand in statically allocated
// storage for both. chunkBuf needs capacity for two chunks per region plus a
// terminator, and headroom for two more per later Reserve call.
func ReconcileInPlace(regions []Region, chunkBuf []Chunk) Map {
	if len(regions) == 0 {
		return Map{chunks: chunkBuf[:0]}
	}

	sorted := regions
	isort(sorted)

	chunks := chunkBuf[:0]
	chunks = append(chunks, Chunk{Base: sorted[0].Base, Kind: kindOf(sorted[0])})
	last := sorted[0]

	for i := 1; i < len(sorted); i++ {
		cur := sorted[i]
		lastEnd := last.Base + last.Size
		curEnd := cur.Base + cur.Size

		switch {
		case cur.Base < lastEnd:
			// Overlap: the combined kind applies from cur.Base onward.
			kind := combine(kindOf(cur), kindOf(last))
			if kind != lastKind(chunks) {
				chunks = append(chunks, Chunk{Base: cur.Base, Kind: kind})
			}
			if curEnd < lastEnd {
				// cur is fully nested inside last; the tail of last
				// resumes its own kind once cur ends.
				if kind != kindOf(last) {
					chunks = append(chunks, Chunk{Base: curEnd, Kind: kindOf(last)})
				}
			} else {
				last = cur
			}

		case lastEnd < cur.Base:
			// Gap: fill with Reserved, then start cur's own kind.
			if kindOf(last) != Reserved {
				chunks = append(chunks, Chunk{Base: lastEnd, Kind: Reserved})
			}
			if kindOf(cur) != Reserved {
				chunks = append(chunks, Chunk{Base: cur.Base, Kind: kindOf(cur)})
			}
			last = cur

		default:
			// Consecutive, no gap, no overlap.
			if kindOf(last) != kindOf(cur) {
				chunks = append(chunks, Chunk{Base: cur.Base, Kind: kindOf(cur)})
			}
			last = cur
		}
	}

	// Terminator chunk: whatever lies past the final region is unmapped
	// and therefore Reserved.
	if kindOf(last) != Reserved {
		chunks = append(chunks, Chunk{Base: last.Base + last.Size, Kind: Reserved})
	}

	return Map{chunks: coalesce(chunks)}
}

// coalesce drops adjacent chunks that share a Kind; Reconcile's own
// bookkeeping already avoids most of these, but Reserve can reintroduce them.
func coalesce(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	out := chunks[:1]
	for _, c := range chunks[1:] {
		if c.Kind == out[len(out)-1].Kind {
			continue
		}
		out = append(out, c)
	}
	return out
}

func lastKind(chunks []Chunk) Kind {
	if len(chunks) == 0 {
		return Reserved
	}
	return chunks[len(chunks)-1].Kind
}

// indexAt returns the index of the chunk covering base, inserting a new
// split point at base (inheriting the kind of the chunk it splits) if one
// doesn't already exist.
func (m *Map) indexAt(base uint64) int {
	i := sort.Search(len(m.chunks), func(i int) bool { return m.chunks[i].Base >= base })
	if i < len(m.chunks) && m.chunks[i].Base == base {
		return i
	}

	kind := Reserved
	if i > 0 {
		kind = m.chunks[i-1].Kind
	}

	m.chunks = append(m.chunks, Chunk{})
	copy(m.chunks[i+1:], m.chunks[i:])
	m.chunks[i] = Chunk{Base: base, Kind: kind}
	return i
}

// Reserve marks [start, end) as Reserved regardless of what it previously
// held. This is how the kernel's own load image, the bootstrap stacks and
// the v8086 low-memory window get carved out of the map before the buddy
// allocator ever sees it.
func (m *Map) Reserve(start, end uint64) {
	if start >= end {
		return
	}
	i := m.indexAt(start)
	j := m.indexAt(end)
	for k := i; k < j; k++ {
		m.chunks[k].Kind = Reserved
	}
	m.chunks = coalesce(m.chunks)
}

// Classify reports the availability of the physical range [base, base+size).
// It returns Usable only if the entire range is covered by Usable chunks,
// Reserved if none of it is usable, and Partial otherwise.
func (m *Map) Classify(base, size uint64) Kind {
	end := base + size
	if len(m.chunks) == 0 || end <= m.chunks[0].Base {
		return Reserved
	}

	i := sort.Search(len(m.chunks), func(i int) bool { return m.chunks[i].Base > base }) - 1
	reserved := false
	usable := false
	if i < 0 {
		i = 0
		reserved = true
	}

	for k := i; k < len(m.chunks) && m.chunks[k].Base < end; k++ {
		if m.chunks[k].Kind == Usable {
			usable = true
		} else {
			reserved = true
		}
	}

	switch {
	case !usable:
		return Reserved
	case !reserved:
		return Usable
	default:
		return Partial
	}
}

// Chunks returns the reconciled chunk list for inspection/diagnostics (e.g.
// the boot-time memory map dump printed through kernel/kfmt).
func (m *Map) Chunks() []Chunk {
	return m.chunks
}
