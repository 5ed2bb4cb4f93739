// Package ringbuffer implements the Working-Memory Ring Buffer from
// §4.L: a fixed-size byte ring backed by a memory-mapped file, serving
// as a hot cache for serialized recent memory chunks. Concurrency:
// multiple readers, single concurrent writer per end; head/tail are
// atomic indices with acquire/release ordering. Grounded directly on
// original_source/working-memory/src/buffer.rs's write/read/
// available_read/available_write/clear shape, translated from mmap2's
// anonymous-Rust-mmap to golang.org/x/sys/unix's syscall.Mmap.
package ringbuffer

import (
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/engramhq/engram/errs"
)

// Buffer is a fixed-capacity circular byte buffer backed by an mmap'd
// file. One byte of capacity is reserved as write/read-pointer slack so
// head == tail is unambiguously "empty" (buffer.rs's available_write
// reserves this same byte; its own write() admission check omits it,
// an inconsistency this implementation does not reproduce).
type Buffer struct {
	mmapMu sync.RWMutex
	data   []byte
	size   int
	head   atomic.Uint64
	tail   atomic.Uint64
	file   *os.File
}

// New memory-maps a size-byte scratch file at path and returns a
// Buffer over it. The file is created/truncated to size if needed.
func New(path string, size int) (*Buffer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "open ring buffer file", err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, errs.Wrap(errs.Internal, "truncate ring buffer file", err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errs.Wrap(errs.Internal, "mmap ring buffer file", err)
	}

	return &Buffer{data: data, size: size, file: file}, nil
}

// Close unmaps and closes the backing file.
func (b *Buffer) Close() error {
	if err := unix.Munmap(b.data); err != nil {
		return errs.Wrap(errs.Internal, "munmap ring buffer", err)
	}
	return b.file.Close()
}

// Write appends data to the buffer. Data larger than the buffer's
// capacity fails with TooLarge; data that does not fit in the current
// free space fails with Full — the caller decides whether to drop or
// overwrite, the buffer never overwrites unread data itself (§4.L).
func (b *Buffer) Write(data []byte) (int, error) {
	if len(data) > b.size {
		return 0, errs.New(errs.TooLarge, "data exceeds ring buffer capacity")
	}

	head := b.head.Load()
	tail := b.tail.Load()
	available := b.availableWrite(head, tail)
	if uint64(len(data)) > available {
		return 0, errs.New(errs.Full, "ring buffer has insufficient free space")
	}

	b.mmapMu.Lock()
	newHead := b.writeAt(head, data)
	b.mmapMu.Unlock()

	b.head.Store(newHead)
	return len(data), nil
}

func (b *Buffer) writeAt(head uint64, data []byte) uint64 {
	size := uint64(b.size)
	h := int(head)
	dataLen := len(data)
	if head+uint64(dataLen) <= size {
		copy(b.data[h:h+dataLen], data)
		return (head + uint64(dataLen)) % size
	}
	firstPart := int(size) - h
	copy(b.data[h:], data[:firstPart])
	copy(b.data[:dataLen-firstPart], data[firstPart:])
	return uint64(dataLen - firstPart)
}

// Read returns up to len bytes from the buffer, advancing the tail.
// Fewer bytes than requested (including zero) are returned when less
// is available; Read never blocks waiting for more data.
func (b *Buffer) Read(length int) ([]byte, error) {
	head := b.head.Load()
	tail := b.tail.Load()
	available := b.availableRead(head, tail)

	readLen := length
	if uint64(readLen) > available {
		readLen = int(available)
	}
	if readLen <= 0 {
		return nil, nil
	}

	b.mmapMu.RLock()
	out := b.readAt(tail, readLen)
	b.mmapMu.RUnlock()

	newTail := (tail + uint64(readLen)) % uint64(b.size)
	b.tail.Store(newTail)
	return out, nil
}

func (b *Buffer) readAt(tail uint64, length int) []byte {
	size := b.size
	t := int(tail)
	out := make([]byte, length)
	if t+length <= size {
		copy(out, b.data[t:t+length])
		return out
	}
	firstPart := size - t
	copy(out[:firstPart], b.data[t:])
	copy(out[firstPart:], b.data[:length-firstPart])
	return out
}

// AvailableRead reports how many bytes are currently readable.
func (b *Buffer) AvailableRead() int {
	return int(b.availableRead(b.head.Load(), b.tail.Load()))
}

func (b *Buffer) availableRead(head, tail uint64) uint64 {
	if head >= tail {
		return head - tail
	}
	return uint64(b.size) - tail + head
}

// AvailableWrite reports how many bytes of free space remain,
// reserving one byte of slack between head and tail.
func (b *Buffer) AvailableWrite() int {
	return int(b.availableWrite(b.head.Load(), b.tail.Load()))
}

func (b *Buffer) availableWrite(head, tail uint64) uint64 {
	if head >= tail {
		return uint64(b.size) - head + tail - 1
	}
	return tail - head - 1
}

// Clear resets the buffer to empty without zeroing its backing bytes.
func (b *Buffer) Clear() {
	b.head.Store(0)
	b.tail.Store(0)
}
