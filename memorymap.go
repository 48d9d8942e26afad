package paradox

import (
	"sync"
	"time"
)

const (
	BlockSize       = 64
	MemoryMapBlocks = 17
)

// memoryPages are the RAM pages kept in the memory map, in index order. The
// last one is fetched again on its own slot; decoders rely on this mapping.
var memoryPages = [MemoryMapBlocks]int{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 0x10,
}

// MemoryMap caches the panel RAM pages. Blocks are refreshed one at a time,
// so two blocks may reflect different instants.
type MemoryMap struct {
	mu        sync.RWMutex
	blocks    [MemoryMapBlocks][BlockSize]byte
	updatedAt [MemoryMapBlocks]time.Time
	version   uint64
}

// Element returns a copy of block i. It panics if i is not in [0, 16].
func (m *MemoryMap) Element(i int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block := m.blocks[i]
	return block[:]
}

// UpdatedAt is when block i was last written.
func (m *MemoryMap) UpdatedAt(i int) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt[i]
}

// Version is bumped on every write.
func (m *MemoryMap) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Initialized reports whether the map was ever written.
func (m *MemoryMap) Initialized() bool {
	return m.Version() > 0
}

func (m *MemoryMap) set(i int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.blocks[i][:], data)
	m.updatedAt[i] = time.Now()
	m.version++
}

func (m *MemoryMap) replace(blocks [MemoryMapBlocks][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i, data := range blocks {
		m.blocks[i] = [BlockSize]byte{}
		copy(m.blocks[i][:], data)
		m.updatedAt[i] = now
	}
	m.version++
}

// ranges concatenates the given byte ranges of the map.
func (m *MemoryMap) ranges(rs []ByteRange) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var buf []byte
	for _, r := range rs {
		buf = append(buf, m.blocks[r.Block][r.From:r.To]...)
	}
	return buf
}
