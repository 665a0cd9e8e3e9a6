package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kagesort/prdl/internal/utils"
)

// pollInterval bounds how long the control loop waits for a slot
// completion before re-checking the abort flag and reporting progress,
// mirroring the 1-second curl_multi select() timeout in spec.md §5.
const pollInterval = 1 * time.Second

// Engine is the single-control-goroutine multiplexing driver described
// in spec.md §4.4/§5: it seeds TransferSlots, drains their completion
// events on one goroutine, verifies pieces, rotates broken mirrors, and
// decides when each job is finished.
type Engine struct {
	MaxParallel int
	ValidateTLS bool

	log     zerolog.Logger
	abort   atomic.Bool
	running sync.WaitGroup
}

// NewEngine constructs an Engine with the given per-job parallelism
// ceiling.
func NewEngine(maxParallel int) *Engine {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Engine{
		MaxParallel: maxParallel,
		log:         utils.GetLogger("engine"),
	}
}

// Abort trips the process-wide cancellation flag; in-flight transfers
// are canceled, files closed, and mtimes of unfinished jobs rolled
// back by Run's cleanup pass.
func (e *Engine) Abort() {
	e.abort.Store(true)
}

// jobRun is per-job control-loop state, isolated from DownloadJob so
// the Engine's bookkeeping never leaks into the data model.
type jobRun struct {
	job    *DownloadJob
	client HTTPDoer
	active int
	done   atomic.Int64 // cumulative bytes written across all slots, for progress reporting
}

// Run drives every job to completion or failure. It returns an
// aggregate boolean: true only if every job finished successfully.
// This is a barrier-style call by design -- spec.md's Engine loop is a
// single pass over the whole job set, not a per-job pipeline.
func (e *Engine) Run(ctx context.Context, jobs []*DownloadJob, clientFor func(*DownloadJob) HTTPDoer) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan SlotResult, 64)
	runs := make(map[string]*jobRun)

	// Pre-filter + open files (spec.md §4.4 steps 1-2).
	var active []*jobRun
	for _, job := range jobs {
		if job.IsFinished() {
			continue
		}
		jr := &jobRun{job: job, client: clientFor(job)}
		if job.UsableMirrorCount() == 0 {
			e.log.Error().Str("kind", ErrConfig.String()).Str("job", job.DestinationPath).Msg("no usable mirrors")
			job.State = JobFailed
			continue
		}
		job.Parallelism = job.ClampParallelism(e.MaxParallel)

		pf, err := OpenPieceFile(job.DestinationPath, job.Size, job.PieceSize)
		if err != nil {
			e.log.Error().Err(newSlotError(ErrDisk, err)).Str("job", job.DestinationPath).Msg("failed to open piece file")
			job.State = JobFailed
			continue
		}
		job.file = pf
		runs[job.ID] = jr
		active = append(active, jr)
	}

	// Seed slots (step 3).
	for _, jr := range active {
		for i := 0; i < jr.job.Parallelism; i++ {
			if !e.setupSlot(ctx, jr, resultCh) {
				break
			}
		}
	}

	// Control loop (step 4): single goroutine drains all completion
	// events and is the only mutator of pieces[]/mirrors[]/files.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	totalActive := func() int {
		n := 0
		for _, jr := range runs {
			n += jr.active
		}
		return n
	}

	for totalActive() > 0 && !e.abort.Load() {
		select {
		case res := <-resultCh:
			jr := runs[res.Slot.Job.ID]
			jr.active--
			e.onComplete(ctx, jr, res, resultCh)
		case <-ticker.C:
			// readiness-wait upper bound; loop condition re-evaluated above
		case <-ctx.Done():
		}
	}

	// Post-pass (step 5): whole-file digest verification for unchunked
	// jobs that have not finished yet, and for chunked jobs whose pieces
	// have all finished (search-built jobs carry no per-piece checksums).
	for _, jr := range active {
		job := jr.job
		unchunkedPending := len(job.Pieces) == 0 && !job.IsFinished()
		chunkedDone := len(job.Pieces) > 0 && job.IsFinished()
		if job.WholeFileDigest != nil && job.WholeFileDigest.IsSet() && (unchunkedPending || chunkedDone) {
			h := NewHasher(job.WholeFileDigest.Algo())
			if err := job.file.HashWhole(h); err == nil {
				if h.Finalize().Equals(job.WholeFileDigest) {
					job.State = JobFinished
				} else {
					e.log.Error().Err(ErrWholeFileMismatch).Str("job", job.DestinationPath).Msg("whole-file digest verification failed")
					job.State = JobFailed
				}
			}
		}
	}

	// Cleanup (step 6): close every file exactly once; roll back mtime
	// of unfinished jobs.
	allOK := true
	for _, jr := range active {
		job := jr.job
		if job.file != nil {
			if !job.IsFinished() {
				if err := job.file.DecrementTimestamp(); err != nil {
					e.log.Warn().Err(err).Str("job", job.DestinationPath).Msg("failed to roll back mtime")
				}
			}
			if err := job.file.Close(); err != nil {
				e.log.Warn().Err(err).Str("job", job.DestinationPath).Msg("failed to close piece file")
			}
		}
		if !job.IsFinished() {
			if e.abort.Load() {
				e.log.Warn().Err(ErrJobAborted).Str("job", job.DestinationPath).Msg("job did not finish")
			}
			if job.State != JobFailed {
				job.State = JobFailed
			}
			allOK = false
		}
	}
	for _, job := range jobs {
		if !job.IsFinished() {
			allOK = false
		}
	}
	return allOK && !e.abort.Load()
}

// setupSlot implements spec.md §4.4's setup_slot: pick the next piece
// range, select the fastest usable mirror, and launch the transfer
// goroutine. Returns false when there is currently no work to hand out
// (either the job just finished, or every mirror is broken).
func (e *Engine) setupSlot(ctx context.Context, jr *jobRun, resultCh chan<- SlotResult) bool {
	job := jr.job
	if job.IsFinished() || job.State == JobFailed {
		return false
	}

	pieces := verifyAndGetNextPieces(job)
	if job.IsFinished() {
		return false
	}
	if len(pieces) == 0 && len(job.Pieces) > 0 {
		if job.AllPiecesFinished() {
			job.State = JobFinished
		}
		return false
	}

	var startPiece int32 = -1
	if len(pieces) > 0 {
		startPiece = int32(pieces[0])
	}

	mirror := SelectFastest(job.Mirrors)
	if mirror == nil {
		e.log.Error().Str("job", job.DestinationPath).Msg("no mirror available for next slot")
		return false
	}

	for _, i := range pieces {
		job.Pieces[i].State = PieceDownloading
	}

	slot := newTransferSlot(job, mirror, startPiece, pieces)
	jr.active++
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		slot.run(ctx, jr.client, e.log, resultCh, func(delta int64) {
			done := jr.done.Add(delta)
			job.reportProgress(done, job.Size)
		})
	}()
	return true
}

// onComplete implements spec.md §4.4's on_complete: verify pieces on
// success, revert and mark the mirror broken on failure, then try to
// pull the next piece range for this job.
func (e *Engine) onComplete(ctx context.Context, jr *jobRun, res SlotResult, resultCh chan<- SlotResult) {
	job := jr.job
	slot := res.Slot

	switch {
	case res.Err != nil:
		e.log.Warn().Err(res.Err).Str("job", job.DestinationPath).Str("mirror", slot.Mirror.URL).
			Str("kind", res.Err.Kind.String()).Msg("slot failed")
		if slot.StartPiece >= 0 {
			for _, i := range slot.PieceRange {
				job.Pieces[i].State = PieceNone
			}
		}
		switch res.Err.Kind {
		case ErrDisk, ErrConfig:
			// Neither is the mirror's fault, and retrying the same
			// mirror or a different one won't change a full disk or a
			// malformed mirror entry -- fail the job outright rather
			// than rotating (spec.md §7's fatal DISK/CONFIG policy).
			job.State = JobFailed
		case ErrAborted:
			// The global abort flag already stops further scheduling;
			// the mirror didn't misbehave, so leave its health alone.
		default: // ErrTransport, ErrProtocol
			slot.Mirror.MarkBroken()
		}

	case res.NotModified:
		e.log.Debug().Err(ErrNotModified).Str("job", job.DestinationPath).Msg("remote unchanged since last download")
		job.State = JobFinished

	case slot.StartPiece < 0:
		// Unchunked/single-piece transfer: verified here against the
		// whole-file digest when one was provided (a mismatch fails the
		// job), finished outright otherwise.
		if job.WholeFileDigest == nil || !job.WholeFileDigest.IsSet() {
			job.State = JobFinished
		} else {
			h := NewHasher(job.WholeFileDigest.Algo())
			if err := job.file.HashWhole(h); err != nil {
				e.log.Error().Err(newSlotError(ErrDisk, err)).Str("job", job.DestinationPath).Msg("failed to hash file")
				job.State = JobFailed
			} else if h.Finalize().Equals(job.WholeFileDigest) {
				job.State = JobFinished
			} else {
				e.log.Error().Err(ErrWholeFileMismatch).Str("job", job.DestinationPath).Msg("whole-file digest verification failed")
				job.State = JobFailed
			}
		}
		slot.Mirror.UpdateSpeed(res.Speed)
		if slot.Mirror.Status == MirrorUnknown {
			slot.Mirror.MarkOK()
		}
		if res.RemoteModTime >= 0 {
			if err := job.file.SetTimestamp(res.RemoteModTime); err != nil {
				e.log.Warn().Err(err).Msg("failed to persist remote mtime")
			}
		}

	default:
		if writer, ok := job.SingleWriter(); ok && writer != slot.ID {
			// This slot's bytes were discarded by the single-writer
			// fallback; its pieces are not independently verifiable.
			// Leave state alone -- the latched writer's completion
			// decides the outcome for the whole job below.
			break
		}
		if slot.role == roleWhole && slot.StartPiece >= 0 {
			// This slot won the single-writer race and streamed the
			// entire file from offset 0, superseding its originally
			// assigned piece range -- every piece needs verifying, not
			// just the one this slot was scheduled for.
			e.verifyPieceRange(job, slot.Mirror, allPieceIndices(job))
		} else {
			e.verifyPieces(job, slot)
		}
		slot.Mirror.UpdateSpeed(res.Speed)
		if slot.Mirror.Status == MirrorUnknown {
			slot.Mirror.MarkOK()
		}
	}

	if e.abort.Load() {
		return
	}
	e.setupSlot(ctx, jr, resultCh)
}

// verifyPieces hashes every piece in slot's range against its expected
// SHA-1, promoting matches to FINISHED and reverting mismatches to
// NONE while marking the mirror broken (spec.md §4.4 step 2, §7
// VERIFICATION recovery policy).
func (e *Engine) verifyPieces(job *DownloadJob, slot *TransferSlot) {
	e.verifyPieceRange(job, slot.Mirror, slot.PieceRange)
}

// verifyPieceRange hashes each piece in indices against its expected
// SHA-1, promoting matches to FINISHED and reverting mismatches to
// NONE while marking mirror broken (spec.md §4.4 step 2, §7
// VERIFICATION recovery policy).
func (e *Engine) verifyPieceRange(job *DownloadJob, mirror *Mirror, indices []uint32) {
	for _, i := range indices {
		p := &job.Pieces[i]
		if p.ExpectedSHA1 == nil || !p.ExpectedSHA1.IsSet() {
			e.log.Info().Uint32("piece", i).Msg("no checksum set, trusting transfer")
			job.markPieceFinished(i)
			continue
		}
		h := NewHasher(AlgoSHA1)
		if err := job.file.HashPiece(h, i); err != nil {
			e.log.Error().Err(newSlotError(ErrDisk, err)).Uint32("piece", i).Msg("failed to hash piece")
			p.State = PieceNone
			mirror.MarkBroken()
			continue
		}
		if h.Finalize().Equals(p.ExpectedSHA1) {
			job.markPieceFinished(i)
		} else {
			verr := newSlotError(ErrVerification, errors.New("checksum mismatch"))
			e.log.Warn().Err(verr).Uint32("piece", i).Str("mirror", mirror.URL).Msg("piece checksum mismatch")
			p.State = PieceNone
			mirror.MarkBroken()
		}
	}
	if job.AllPiecesFinished() {
		job.State = JobFinished
	}
}

// allPieceIndices returns every piece index in the job, used when a
// single-writer fallback transfer supersedes the piece-range scheduling
// by streaming the entire file in one go.
func allPieceIndices(job *DownloadJob) []uint32 {
	indices := make([]uint32, len(job.Pieces))
	for i := range job.Pieces {
		indices[i] = uint32(i)
	}
	return indices
}

// verifyAndGetNextPieces implements spec.md §4.5: walk pieces in
// order, opportunistically verifying already-on-disk bytes, and
// return the next contiguous run of not-yet-downloaded pieces sized to
// this job's fair share.
func verifyAndGetNextPieces(job *DownloadJob) []uint32 {
	if job.IsFinished() {
		return nil
	}

	if len(job.Pieces) == 0 && job.WholeFileDigest != nil && job.WholeFileDigest.IsSet() && job.file != nil {
		h := NewHasher(job.WholeFileDigest.Algo())
		if err := job.file.HashWhole(h); err == nil && h.Finalize().Equals(job.WholeFileDigest) {
			job.State = JobFinished
		}
		return nil
	}

	if len(job.Pieces) == 0 {
		return nil
	}

	fairShare := len(job.Pieces) / job.Parallelism
	if fairShare < 1 {
		fairShare = 1
	}

	var result []uint32
	for i := range job.Pieces {
		p := &job.Pieces[i]
		switch p.State {
		case PieceFinished:
			if len(result) > 0 {
				return result
			}
		case PieceNone:
			if p.ExpectedSHA1 != nil && p.ExpectedSHA1.IsSet() && !job.file.IsNewFile() {
				h := NewHasher(AlgoSHA1)
				if err := job.file.HashPiece(h, uint32(i)); err == nil && h.Finalize().Equals(p.ExpectedSHA1) {
					job.markPieceFinished(uint32(i))
					if len(result) > 0 {
						return result
					}
					continue
				}
			}
			result = append(result, uint32(i))
			if len(result) == fairShare {
				return result
			}
		default: // DOWNLOADING: owned by another slot, skip
		}
	}

	if len(result) == 0 && job.AllPiecesFinished() {
		job.State = JobFinished
	}
	return result
}

// Wait blocks until every slot goroutine spawned by this Engine has
// returned. Callers that call Abort concurrently with Run should Wait
// afterward to avoid leaking goroutines mid-shutdown.
func (e *Engine) Wait() {
	e.running.Wait()
}
