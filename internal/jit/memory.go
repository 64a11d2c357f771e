package jit

import (
	"fmt"
	"math/big"
	"sort"
)

// stackBase is the address of the first allocation. Address zero stays
// invalid so null pointers are caught.
const stackBase = 0x10000

type segment struct {
	base uint64
	data []byte
}

// memory is a stack of allocations. Values are stored little endian in
// SizeOf(type) bytes.
type memory struct {
	segments []*segment
	top      uint64
}

func newMemory() *memory {
	return &memory{top: stackBase}
}

// alloc reserves size bytes, aligned to 16, and returns their address.
func (m *memory) alloc(size int) uint64 {
	if size <= 0 {
		size = 1
	}
	addr := m.top
	m.segments = append(m.segments, &segment{base: addr, data: make([]byte, size)})
	m.top = (addr + uint64(size) + 15) &^ 15
	return addr
}

// mark returns the current stack depth for a later release.
func (m *memory) mark() int { return len(m.segments) }

// release frees every allocation made after mark.
func (m *memory) release(mark int) {
	if mark >= len(m.segments) {
		return
	}
	m.top = m.segments[mark].base
	m.segments = m.segments[:mark]
}

func (m *memory) find(addr uint64, size int) ([]byte, error) {
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].base > addr
	}) - 1
	if i < 0 {
		return nil, fmt.Errorf("invalid memory access at 0x%x", addr)
	}
	s := m.segments[i]
	off := addr - s.base
	if off+uint64(size) > uint64(len(s.data)) {
		return nil, fmt.Errorf("memory access of %d bytes at 0x%x is out of bounds", size, addr)
	}
	return s.data[off : off+uint64(size)], nil
}

func (m *memory) load(addr uint64, size int) (*big.Int, error) {
	buf, err := m.find(addr, size)
	if err != nil {
		return nil, err
	}
	be := make([]byte, size)
	for i, b := range buf {
		be[size-1-i] = b
	}
	return new(big.Int).SetBytes(be), nil
}

func (m *memory) store(addr uint64, size int, v *big.Int) error {
	buf, err := m.find(addr, size)
	if err != nil {
		return err
	}
	be := v.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	for i := 0; i < len(be) && i < size; i++ {
		buf[i] = be[len(be)-1-i]
	}
	return nil
}
