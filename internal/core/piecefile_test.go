package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenPieceFileCreatesAndPreallocates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")

	pf, err := OpenPieceFile(path, 300, 100)
	if err != nil {
		t.Fatalf("OpenPieceFile: %v", err)
	}
	defer pf.Close()

	if !pf.IsNewFile() {
		t.Error("expected fresh file to report IsNewFile true")
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 300 {
		t.Errorf("size = %d, want 300", fi.Size())
	}
}

func TestOpenPieceFileReusesSameSizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")

	pf1, err := OpenPieceFile(path, 300, 100)
	if err != nil {
		t.Fatalf("OpenPieceFile: %v", err)
	}
	pf1.Close()

	pf2, err := OpenPieceFile(path, 300, 100)
	if err != nil {
		t.Fatalf("OpenPieceFile (reopen): %v", err)
	}
	defer pf2.Close()
	if pf2.IsNewFile() {
		t.Error("expected resumed file to report IsNewFile false")
	}
}

func TestOpenPieceFileRecreatesOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")

	pf1, _ := OpenPieceFile(path, 300, 100)
	pf1.Close()

	pf2, err := OpenPieceFile(path, 500, 100)
	if err != nil {
		t.Fatalf("OpenPieceFile: %v", err)
	}
	defer pf2.Close()
	if !pf2.IsNewFile() {
		t.Error("expected size-mismatched file to be treated as new")
	}
}

func TestPieceSizeOfShortTail(t *testing.T) {
	dir := t.TempDir()
	pf, _ := OpenPieceFile(filepath.Join(dir, "f.bin"), 250, 100)
	defer pf.Close()

	if got := pf.PieceSizeOf(0); got != 100 {
		t.Errorf("piece 0 size = %d, want 100", got)
	}
	if got := pf.PieceSizeOf(2); got != 50 {
		t.Errorf("piece 2 (tail) size = %d, want 50", got)
	}
	if got := pf.PieceSizeOf(3); got != 0 {
		t.Errorf("piece 3 (out of range) size = %d, want 0", got)
	}
}

func TestWriteAndHashPieceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pf, err := OpenPieceFile(filepath.Join(dir, "f.bin"), 6, 3)
	if err != nil {
		t.Fatalf("OpenPieceFile: %v", err)
	}
	defer pf.Close()

	if _, err := pf.Write([]byte("abc"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := pf.Write([]byte("def"), 1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	h := NewHasher(AlgoSHA1)
	if err := pf.HashPiece(h, 0); err != nil {
		t.Fatalf("HashPiece: %v", err)
	}
	got := h.Finalize()
	want := NewSHA1Digest()
	want.Set("a9993e364706816aba3e25717850c26c9cd0d89d") // sha1("abc")
	if !got.Equals(want) {
		t.Errorf("hash of piece 0 = %s, want %s", got.ToHex(), want.ToHex())
	}
}

func TestHashWholeMatchesFullContent(t *testing.T) {
	dir := t.TempDir()
	pf, err := OpenPieceFile(filepath.Join(dir, "f.bin"), 3, 3)
	if err != nil {
		t.Fatalf("OpenPieceFile: %v", err)
	}
	defer pf.Close()
	pf.WriteLinear([]byte("abc"), 0)

	h := NewHasher(AlgoSHA1)
	if err := pf.HashWhole(h); err != nil {
		t.Fatalf("HashWhole: %v", err)
	}
	if h.Finalize().ToHex() != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("unexpected whole-file hash")
	}
}

func TestDecrementTimestampMovesMtimeBack(t *testing.T) {
	dir := t.TempDir()
	pf, _ := OpenPieceFile(filepath.Join(dir, "f.bin"), 3, 3)
	defer pf.Close()

	before := pf.GetTimestamp()
	if err := pf.DecrementTimestamp(); err != nil {
		t.Fatalf("DecrementTimestamp: %v", err)
	}
	after := pf.GetTimestamp()
	if after != before-1 {
		t.Errorf("after = %d, want %d", after, before-1)
	}
}

func TestRangeByteSizeSumsPieces(t *testing.T) {
	dir := t.TempDir()
	pf, _ := OpenPieceFile(filepath.Join(dir, "f.bin"), 250, 100)
	defer pf.Close()

	got := pf.RangeByteSize([]uint32{0, 1, 2})
	if got != 250 {
		t.Errorf("RangeByteSize = %d, want 250", got)
	}
}
