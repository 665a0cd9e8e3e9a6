package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// JobState is the overall lifecycle state of a DownloadJob.
type JobState int

const (
	JobRunning JobState = iota
	JobFinished
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobFinished:
		return "finished"
	case JobFailed:
		return "failed"
	default:
		return "running"
	}
}

// ProgressFunc receives (done, total) byte counts as a job progresses.
type ProgressFunc func(done, total int64)

// DownloadJob is one artifact being fetched: its destination, size,
// piece layout, mirror pool, and lifecycle state. DownloadJobs are
// constructed externally (by internal/search or a direct URL) and
// handed to the Engine, which owns all further mutation.
type DownloadJob struct {
	ID              string
	DestinationPath string
	Size            int64
	PieceSize       int64
	Pieces          []Piece
	WholeFileDigest *Digest // optional MD5, nil when not provided by metadata
	Mirrors         []*Mirror
	Parallelism     int
	ValidateTLS     bool
	Depends         []string
	Category        string
	Version         string

	State JobState

	file *PieceFile

	mu             sync.Mutex
	singleWriterID string // ID of the TransferSlot latched as sole writer, "" if none

	finishedPieces atomic.Int64 // pieces promoted to PieceFinished, for cross-goroutine display

	ProgressFunc ProgressFunc
}

// NewHTTPJob builds a fresh, piece-aware DownloadJob. pieceSize <= 0
// or size <= 0 produces a job with no piece list, handled by the
// Engine as a single-shot/unchunked transfer.
func NewHTTPJob(destinationPath string, size int64, pieceSize int64, mirrors []string) *DownloadJob {
	job := &DownloadJob{
		ID:              uuid.New().String(),
		DestinationPath: destinationPath,
		Size:            size,
		PieceSize:       pieceSize,
		State:           JobRunning,
	}
	if pieceSize > 0 {
		job.Pieces = piecesForSize(size, pieceSize)
	}
	for _, m := range mirrors {
		job.Mirrors = append(job.Mirrors, NewMirror(m))
	}
	return job
}

// IsFinished reports whether every piece (or the whole-file digest, for
// unchunked jobs) has been verified.
func (j *DownloadJob) IsFinished() bool {
	return j.State == JobFinished
}

// File returns the job's open PieceFile, or nil before the Engine has
// opened it.
func (j *DownloadJob) File() *PieceFile {
	return j.file
}

// UsableMirrorCount returns how many of the job's mirrors are not Broken.
func (j *DownloadJob) UsableMirrorCount() int {
	return UsableCount(j.Mirrors)
}

// ClampParallelism computes parallelism = clamp(requested, 1,
// min(len(pieces), usableMirrors)) per spec.md's DownloadJob invariant.
func (j *DownloadJob) ClampParallelism(requested int) int {
	usable := j.UsableMirrorCount()
	upper := usable
	if len(j.Pieces) < upper {
		upper = len(j.Pieces)
	}
	if upper < 1 {
		upper = 1
	}
	if requested < 1 {
		requested = 1
	}
	if requested > upper {
		requested = upper
	}
	return requested
}

// LatchSingleWriter records slotID as the sole writer for a job that
// degraded to single-source mode because its mirror refused ranges.
// It is a one-way latch: once set for a job, it never changes.
func (j *DownloadJob) LatchSingleWriter(slotID string) (latched bool, owner string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.singleWriterID == "" {
		j.singleWriterID = slotID
	}
	return j.singleWriterID == slotID, j.singleWriterID
}

// SingleWriter reports the currently latched writer slot ID, if any.
func (j *DownloadJob) SingleWriter() (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.singleWriterID, j.singleWriterID != ""
}

// markPieceFinished promotes pieces[i] to FINISHED and records the
// transition in the atomic counter FinishedPieceCount reads, so a
// display goroutine outside the Engine's control loop can observe
// piece progress without racing on the Pieces slice itself. A piece
// that is already FINISHED is left as it is, so the single-writer path,
// which re-verifies every piece, does not count a piece twice.
func (j *DownloadJob) markPieceFinished(i uint32) {
	if j.Pieces[i].State == PieceFinished {
		return
	}
	j.Pieces[i].State = PieceFinished
	j.finishedPieces.Add(1)
}

// FinishedPieceCount returns how many pieces have reached FINISHED,
// safe to call from any goroutine.
func (j *DownloadJob) FinishedPieceCount() int {
	return int(j.finishedPieces.Load())
}

// TotalPieceCount returns the job's piece count, 0 for unchunked jobs.
// The Pieces slice is only appended to at construction, so its length
// is safe to read from any goroutine.
func (j *DownloadJob) TotalPieceCount() int {
	return len(j.Pieces)
}

// AllPiecesFinished reports whether every piece has reached FINISHED.
func (j *DownloadJob) AllPiecesFinished() bool {
	if len(j.Pieces) == 0 {
		return false
	}
	for i := range j.Pieces {
		if j.Pieces[i].State != PieceFinished {
			return false
		}
	}
	return true
}

func (j *DownloadJob) reportProgress(done, total int64) {
	if j.ProgressFunc != nil {
		j.ProgressFunc(done, total)
	}
}
