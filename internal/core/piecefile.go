package core

import (
	"fmt"
	"io"
	"os"
	"time"
)

// PieceFile is the random-access file abstraction pieces are written
// into and hashed from. It is opened lazily by the Engine and closed
// exactly once during cleanup (spec.md §8 invariant).
type PieceFile struct {
	path      string
	f         *os.File
	size      int64
	pieceSize int64
	isNew     bool
}

// OpenPieceFile creates or reuses the destination file. If a file of
// the same size already exists at path, it is reused for resumption
// and IsNewFile reports false; otherwise it is (re)created and
// preallocated to size.
func OpenPieceFile(path string, size int64, pieceSize int64) (*PieceFile, error) {
	pf := &PieceFile{path: path, size: size, pieceSize: pieceSize}

	if fi, err := os.Stat(path); err == nil && !fi.IsDir() && fi.Size() == size {
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("reopening existing piece file: %w", err)
		}
		pf.f = f
		pf.isNew = false
		return pf, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating piece file: %w", err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocating piece file to %d bytes: %w", size, err)
		}
	}
	pf.f = f
	pf.isNew = true
	return pf, nil
}

// IsNewFile reports whether the file was freshly created (as opposed
// to reused from a prior, same-sized download).
func (pf *PieceFile) IsNewFile() bool {
	return pf.isNew
}

// PieceSizeOf returns the effective size of piece i, accounting for a
// short final piece.
func (pf *PieceFile) PieceSizeOf(i uint32) int64 {
	offset := int64(i) * pf.pieceSize
	if offset >= pf.size {
		return 0
	}
	if remaining := pf.size - offset; remaining < pf.pieceSize {
		return remaining
	}
	return pf.pieceSize
}

// RangeByteSize sums the effective sizes of a contiguous run of pieces.
func (pf *PieceFile) RangeByteSize(pieces []uint32) int64 {
	var total int64
	for _, i := range pieces {
		total += pf.PieceSizeOf(i)
	}
	return total
}

// Write writes buf at the offset for pieceIndex. A short write is
// reported as an error, per spec.md's "short write aborts the job"
// semantics -- the caller (TransferSlot) treats it as fatal.
func (pf *PieceFile) Write(buf []byte, pieceIndex uint32) (int, error) {
	offset := int64(pieceIndex) * pf.pieceSize
	n, err := pf.f.WriteAt(buf, offset)
	if err != nil {
		return n, fmt.Errorf("writing piece %d at offset %d: %w", pieceIndex, offset, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("writing piece %d at offset %d: %w", pieceIndex, offset, ErrShortWrite)
	}
	return n, nil
}

// WriteLinear writes buf at an explicit absolute offset, used by the
// single-writer fallback which writes the whole body starting at 0
// regardless of piece boundaries.
func (pf *PieceFile) WriteLinear(buf []byte, offset int64) (int, error) {
	n, err := pf.f.WriteAt(buf, offset)
	if err != nil {
		return n, fmt.Errorf("writing at offset %d: %w", offset, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("writing at offset %d: %w", offset, ErrShortWrite)
	}
	return n, nil
}

// HashPiece streams piece i's bytes through h.
func (pf *PieceFile) HashPiece(h *Hasher, i uint32) error {
	size := pf.PieceSizeOf(i)
	if size == 0 {
		return nil
	}
	section := io.NewSectionReader(pf.f, int64(i)*pf.pieceSize, size)
	if _, err := io.Copy(h, section); err != nil {
		return fmt.Errorf("hashing piece %d: %w", i, err)
	}
	return nil
}

// HashWhole streams the entire file through h.
func (pf *PieceFile) HashWhole(h *Hasher) error {
	section := io.NewSectionReader(pf.f, 0, pf.size)
	if _, err := io.Copy(h, section); err != nil {
		return fmt.Errorf("hashing whole file: %w", err)
	}
	return nil
}

// GetTimestamp returns the file's mtime as unix seconds, or -1 if unknown.
func (pf *PieceFile) GetTimestamp() int64 {
	fi, err := os.Stat(pf.path)
	if err != nil {
		return -1
	}
	return fi.ModTime().Unix()
}

// SetTimestamp sets the file's mtime to the given unix seconds.
func (pf *PieceFile) SetTimestamp(t int64) error {
	mtime := time.Unix(t, 0)
	return os.Chtimes(pf.path, mtime, mtime)
}

// DecrementTimestamp rolls the mtime back by one second, forcing a
// re-fetch (via If-Modified-Since) on the next run after a failure.
func (pf *PieceFile) DecrementTimestamp() error {
	ts := pf.GetTimestamp()
	if ts < 0 {
		return nil
	}
	return pf.SetTimestamp(ts - 1)
}

// Close closes the underlying file. Safe to call once; the Engine
// guarantees exactly one call per job on every terminating path.
func (pf *PieceFile) Close() error {
	if pf.f == nil {
		return nil
	}
	err := pf.f.Close()
	pf.f = nil
	return err
}
