package camloop

import "sync/atomic"

// Letter is a chunk as stored in a ChunkMailbox. Seq identifies the Put that
// stored it; two peeks returning the same Seq saw the same chunk.
type Letter struct {
	Seq   uint64
	Chunk EncodedChunk
}

type slot struct {
	letter Letter
	peeked atomic.Bool
}

// ChunkMailbox holds at most one chunk. Put always replaces the current chunk,
// whether it was read or not, so a reader sees only the most recent chunk and
// may miss any number of earlier ones.
//
// A mailbox has a single writer and a single reader; both sides only touch an
// atomic pointer.
type ChunkMailbox struct {
	current    atomic.Pointer[slot]
	seq        atomic.Uint64
	puts       atomic.Uint64
	overwrites atomic.Uint64
}

func NewChunkMailbox() *ChunkMailbox {
	return &ChunkMailbox{}
}

// Put stores chunk, replacing any previous chunk.
func (m *ChunkMailbox) Put(chunk EncodedChunk) {
	s := &slot{
		letter: Letter{
			Seq:   m.seq.Add(1),
			Chunk: chunk,
		},
	}
	old := m.current.Swap(s)
	m.puts.Add(1)
	if old != nil && !old.peeked.Load() {
		m.overwrites.Add(1)
	}
}

// Peek returns the current letter without consuming it.
func (m *ChunkMailbox) Peek() (Letter, bool) {
	s := m.current.Load()
	if s == nil {
		return Letter{}, false
	}
	s.peeked.Store(true)
	return s.letter, true
}

type MailboxStats struct {
	// Puts counts all chunks written.
	Puts uint64 `json:"puts"`
	// Overwrites counts chunks replaced before anybody peeked at them.
	Overwrites uint64 `json:"overwrites"`
}

func (m *ChunkMailbox) Stats() MailboxStats {
	return MailboxStats{
		Puts:       m.puts.Load(),
		Overwrites: m.overwrites.Load(),
	}
}
