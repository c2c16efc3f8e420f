// Package storelog implements the append-only blob log and the double-write
// superblock that publishes a crash-safe root pointer for a B-tree.
//
// The file layout is:
//
//	[0, SuperblockSize)  two root-pointer slots, each
//	                     {sequence: u64 LE, root_address: u64 LE, checksum: u64 LE}
//	[SuperblockSize, EOF) length-prefixed blobs: {length: u64 LE, payload: length bytes}
//
// root_address == 0 denotes an empty tree, since offset 0 always falls
// inside the superblock and is therefore never a valid blob address.
package storelog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ssargent/ambertree/pkg/log"
)

// SuperblockSize is the fixed, aligned header size reserved for the two
// root-pointer slots.
const SuperblockSize = 4096

const slotSize = SuperblockSize / 2
const slotEncodedSize = 8 + 8 + 8 // sequence + root_address + checksum

// NoRoot is the sentinel root address meaning "empty tree" / "never
// committed". It doubles as both states since they are operationally
// identical: there is nothing to read either way.
const NoRoot int64 = 0

// ErrCorruptLog is returned when the log's bytes violate the on-disk format:
// an impossible length prefix, a short read, or a superblock with no valid
// slot.
var ErrCorruptLog = fmt.Errorf("storelog: corrupt log")

// Log is a single-writer append-only blob log with a crash-safe root
// pointer. Append, CommitRoot, Root, SetFsyncOnCommit and Close serialize
// on an internal mutex. Read takes no lock: it reads through ReadAt, so it
// may run alongside the other methods, but not after Close.
type Log struct {
	mu sync.Mutex

	file   *os.File
	writer *bufio.Writer
	offset int64 // next append offset, always >= SuperblockSize

	slotSeq  [2]uint64 // sequence number currently stored in each slot
	rootAddr int64     // last-known-committed root address

	fsyncOnCommit bool // whether CommitRoot fsyncs before publishing a root
}

// Open opens or creates path, reading (and if necessary initializing) the
// superblock. A brand new (empty) file is initialized with a "none" root in
// slot 0.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storelog: open %s: %w", path, err)
	}

	l := &Log{file: f, fsyncOnCommit: true}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storelog: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		if err := l.initSuperblock(); err != nil {
			f.Close()
			return nil, err
		}
		l.offset = SuperblockSize
	} else {
		if err := l.readSuperblock(); err != nil {
			f.Close()
			return nil, err
		}
		l.offset = info.Size()
	}

	l.writer = bufio.NewWriterSize(f, 64*1024)
	if _, err := f.Seek(l.offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("storelog: seek %s: %w", path, err)
	}

	log.Debug(fmt.Sprintf("storelog: opened %s at offset %d", path, l.offset))
	return l, nil
}

func (l *Log) initSuperblock() error {
	buf := make([]byte, SuperblockSize)
	// Slot 0 starts at sequence 1 with root == NoRoot; slot 1 stays all
	// zero (sequence 0), so recovery's "largest valid sequence" rule
	// always prefers slot 0 on a fresh file.
	encodeSlot(buf[0:slotEncodedSize], 1, NoRoot)
	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("storelog: init superblock: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("storelog: sync superblock: %w", err)
	}
	l.slotSeq = [2]uint64{1, 0}
	return nil
}

func (l *Log) readSuperblock() error {
	buf := make([]byte, SuperblockSize)
	if _, err := io.ReadFull(io.NewSectionReader(l.file, 0, SuperblockSize), buf); err != nil {
		return fmt.Errorf("%w: reading superblock: %v", ErrCorruptLog, err)
	}

	seqs := [2]uint64{}
	roots := [2]int64{}
	valid := [2]bool{}

	for i := 0; i < 2; i++ {
		slot := buf[i*slotSize : i*slotSize+slotEncodedSize]
		seq, root, checksum := decodeSlot(slot)
		seqs[i] = seq
		roots[i] = root
		valid[i] = checksumSlot(seq, root) == checksum
	}

	best := -1
	for i := 0; i < 2; i++ {
		if !valid[i] {
			continue
		}
		if best == -1 || seqs[i] > seqs[best] {
			best = i
		}
	}
	if best == -1 {
		return fmt.Errorf("%w: no valid superblock slot", ErrCorruptLog)
	}

	l.slotSeq = seqs
	l.rootAddr = roots[best]
	return nil
}

func encodeSlot(dst []byte, sequence uint64, root int64) {
	binary.LittleEndian.PutUint64(dst[0:8], sequence)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(root))
	binary.LittleEndian.PutUint64(dst[16:24], checksumSlot(sequence, root))
}

func decodeSlot(src []byte) (sequence uint64, root int64, checksum uint64) {
	sequence = binary.LittleEndian.Uint64(src[0:8])
	root = int64(binary.LittleEndian.Uint64(src[8:16]))
	checksum = binary.LittleEndian.Uint64(src[16:24])
	return
}

func checksumSlot(sequence uint64, root int64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], sequence)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(root))
	return xxhash.Sum64(buf[:])
}

// Append writes a length-prefixed blob at the current end of the log and
// returns the offset of its length prefix. Appends are buffered; callers
// must invoke CommitRoot (which flushes and fsyncs) before relying on
// durability.
func (l *Log) Append(payload []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	addr := l.offset
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))

	if _, err := l.writer.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("storelog: append length prefix: %w", err)
	}
	if _, err := l.writer.Write(payload); err != nil {
		return 0, fmt.Errorf("storelog: append payload: %w", err)
	}

	l.offset += int64(len(lenBuf)) + int64(len(payload))
	return addr, nil
}

// Read reads the blob at address, validating the length prefix against file
// bounds. It reads straight from the file with ReadAt, so it sees bytes
// appended and flushed since Open; bytes still held in the append buffer
// are not visible until the next CommitRoot or Close flushes them.
func (l *Log) Read(address int64) ([]byte, error) {
	if address < SuperblockSize {
		return nil, fmt.Errorf("%w: address %d inside superblock", ErrCorruptLog, address)
	}

	var lenBuf [8]byte
	if _, err := l.file.ReadAt(lenBuf[:], address); err != nil {
		return nil, fmt.Errorf("%w: reading length prefix at %d: %v", ErrCorruptLog, address, err)
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])

	info, err := l.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("storelog: stat: %w", err)
	}
	if address+8+int64(length) > info.Size() {
		return nil, fmt.Errorf("%w: blob at %d claims length %d past EOF", ErrCorruptLog, address, length)
	}

	payload := make([]byte, length)
	if _, err := l.file.ReadAt(payload, address+8); err != nil {
		return nil, fmt.Errorf("%w: reading payload at %d: %v", ErrCorruptLog, address, err)
	}
	return payload, nil
}

// SetFsyncOnCommit controls whether CommitRoot fsyncs the data region and
// the superblock slot write before returning. It defaults to true (full
// crash durability); a caller that has accepted the durability trade-off
// (config's fsync_on_commit: false) can disable it to make commits cheaper
// at the cost of losing at most the last unsynced commits on a crash.
func (l *Log) SetFsyncOnCommit(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fsyncOnCommit = v
	if !v {
		log.Warn("storelog: fsync-on-commit disabled; commits are not crash-durable")
	}
}

// CommitRoot flushes any buffered appends, optionally fsyncs the data
// region, then atomically publishes address as the new root by writing it
// into whichever superblock slot holds the older sequence number,
// optionally fsyncing that write before returning. Both fsyncs are gated by
// fsyncOnCommit.
func (l *Log) CommitRoot(address int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("storelog: flush before commit: %w", err)
	}
	if l.fsyncOnCommit {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("storelog: sync data before commit: %w", err)
		}
	}

	slot := 0
	if l.slotSeq[0] > l.slotSeq[1] {
		slot = 1
	}
	newSeq := l.slotSeq[0]
	if l.slotSeq[1] > newSeq {
		newSeq = l.slotSeq[1]
	}
	newSeq++

	buf := make([]byte, slotEncodedSize)
	encodeSlot(buf, newSeq, address)
	if _, err := l.file.WriteAt(buf, int64(slot*slotSize)); err != nil {
		return fmt.Errorf("storelog: write root slot %d: %w", slot, err)
	}
	if l.fsyncOnCommit {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("storelog: sync root slot: %w", err)
		}
	}

	l.slotSeq[slot] = newSeq
	l.rootAddr = address
	log.Debug(fmt.Sprintf("storelog: committed root %d into slot %d (seq %d)", address, slot, newSeq))
	return nil
}

// Root returns the current root address and whether the tree is non-empty.
// ok is false when address == NoRoot (the log has never been committed to,
// or the tree was committed empty — these are operationally identical).
func (l *Log) Root() (address int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rootAddr, l.rootAddr != NoRoot
}

// Close flushes and syncs any pending data, then closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("storelog: flush on close: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("storelog: sync on close: %w", err)
	}
	return l.file.Close()
}
