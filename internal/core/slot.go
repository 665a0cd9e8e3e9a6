package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kagesort/prdl/internal/utils"
)

// HTTPDoer is the minimal transport surface a TransferSlot needs. The
// concrete implementation lives in internal/utils; core only depends
// on this interface so the download engine stays transport-agnostic
// beyond spec.md's "HTTP(S) only" non-goal.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// slotRole tags what a TransferSlot is currently doing with its bytes,
// per spec.md's Design Notes preferred re-architecture.
type slotRole int

const (
	rolePiece   slotRole = iota // writes its own contiguous piece range
	roleWhole                   // single-piece/unchunked transfer, writes from offset 0
	roleDiscard                 // range-refusal loser: drains the body, writes nothing
)

// TransferSlot is one in-flight HTTP transfer bound to a single mirror
// and a contiguous piece range (or the whole file, for unchunked jobs).
type TransferSlot struct {
	ID         string
	Job        *DownloadJob
	Mirror     *Mirror
	StartPiece int32 // -1 means unchunked/single-piece, linear from offset 0
	PieceRange []uint32
	GotRanges  bool
	role       slotRole
	filetime   bool // If-Modified-Since was sent; track remote mtime on success
}

// SlotResult is what a TransferSlot reports back to the Engine's
// control goroutine over the completion channel.
type SlotResult struct {
	Slot          *TransferSlot
	Err           *SlotError
	NotModified   bool
	RemoteModTime int64 // unix seconds from Last-Modified, -1 if unknown
	Speed         float64 // bytes/sec observed for this transfer
}

func newTransferSlot(job *DownloadJob, mirror *Mirror, startPiece int32, pieceRange []uint32) *TransferSlot {
	return &TransferSlot{
		ID:         uuid.New().String(),
		Job:        job,
		Mirror:     mirror,
		StartPiece: startPiece,
		PieceRange: pieceRange,
	}
}

// isFullRangeRequest reports whether the requested piece range spans
// the entire file, in which case no Range header is sent at all
// (spec.md §4.3) and got_ranges is pre-asserted true.
func (s *TransferSlot) isFullRangeRequest() bool {
	return s.StartPiece == 0 && len(s.Job.Pieces) > 0 && len(s.PieceRange) == len(s.Job.Pieces)
}

// chunked reports whether this slot is fetching a piece range of a
// job that has piece metadata, as opposed to a single-shot transfer.
func (s *TransferSlot) chunked() bool {
	return len(s.Job.Pieces) > 0 && s.StartPiece >= 0
}

// run performs the HTTP transfer on its own goroutine and sends
// exactly one SlotResult on resultCh, unless ctx is canceled before the
// result is received. progress reports raw
// bytes-transferred deltas (including discarded single-writer-loser
// bytes, matching the original's curl progress semantics).
func (s *TransferSlot) run(ctx context.Context, client HTTPDoer, log zerolog.Logger, resultCh chan<- SlotResult, progress func(int64)) {
	result := s.doRun(ctx, client, log, progress)
	result.Slot = s
	select {
	case resultCh <- result:
	case <-ctx.Done():
	}
}

func (s *TransferSlot) doRun(ctx context.Context, client HTTPDoer, log zerolog.Logger, progress func(int64)) SlotResult {
	job := s.Job
	pf := job.file

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Mirror.URL, nil)
	if err != nil {
		// A URL that fails to parse into a request is a malformed mirror
		// entry, not a network failure -- classify it as CONFIG rather
		// than TRANSPORT so the Engine fails the job instead of futilely
		// rotating to another mirror with the same bad data.
		return SlotResult{Err: newSlotError(classifyRequestErr(ctx, ErrConfig), fmt.Errorf("building request: %w", err))}
	}

	chunked := s.chunked()
	var startOffset int64
	if chunked {
		startOffset = int64(s.StartPiece) * job.PieceSize
		if !s.isFullRangeRequest() {
			rangeSize := pf.RangeByteSize(s.PieceRange)
			end := startOffset + rangeSize - 1
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startOffset, end))
		} else {
			s.GotRanges = true
		}
	} else {
		s.role = roleWhole
		s.GotRanges = true
		if job.WholeFileDigest == nil || !job.WholeFileDigest.IsSet() {
			if ts := pf.GetTimestamp(); ts >= 0 {
				req.Header.Set("If-Modified-Since", time.Unix(ts, 0).UTC().Format(http.TimeFormat))
				s.filetime = true
			}
		}
	}
	req.Header.Set("Connection", "keep-alive")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return SlotResult{Err: newSlotError(classifyRequestErr(ctx, ErrTransport), fmt.Errorf("requesting %s: %w", s.Mirror.URL, err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return SlotResult{NotModified: true}
	}
	if resp.StatusCode >= 400 {
		return SlotResult{Err: newSlotError(ErrTransport, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.Mirror.URL))}
	}

	gotRanges := s.GotRanges
	if chunked && resp.StatusCode == http.StatusPartialContent {
		cr := resp.Header.Get("Content-Range")
		crStart, crEnd, _, ok := parseContentRange(cr)
		if !ok {
			return SlotResult{Err: newSlotError(ErrProtocol, fmt.Errorf("missing or malformed Content-Range header"))}
		}
		expected := pf.RangeByteSize(s.PieceRange)
		if crEnd-crStart+1 != expected {
			return SlotResult{Err: newSlotError(ErrProtocol, ErrRangeMismatch)}
		}
		gotRanges = true
		s.role = rolePiece
	}

	var remoteModTime int64 = -1
	if s.filetime {
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				remoteModTime = t.Unix()
			}
		}
	}

	written, werr := s.writeBody(ctx, resp.Body, chunked, gotRanges, startOffset, log, progress)
	if werr != nil {
		return SlotResult{Err: werr}
	}

	elapsed := time.Since(start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(written) / elapsed
	}
	log.Debug().Str("mirror", s.Mirror.URL).Int64("bytes", written).Msg("transfer finished")
	return SlotResult{RemoteModTime: remoteModTime, Speed: speed}
}

// writeBody streams the response body to disk, applying the
// no-ranges single-writer fallback when this multi-piece job's
// mirror refused Range requests.
func (s *TransferSlot) writeBody(ctx context.Context, body io.Reader, chunked, gotRanges bool, startOffset int64, log zerolog.Logger, progress func(int64)) (int64, *SlotError) {
	job := s.Job
	pf := job.file
	buf := make([]byte, utils.DefaultBufferSize)

	var written int64
	var determinedRole bool
	writeAsDiscard := false

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if chunked && !gotRanges {
				if !determinedRole {
					latched, _ := job.LatchSingleWriter(s.ID)
					writeAsDiscard = !latched
					determinedRole = true
					if !writeAsDiscard {
						log.Warn().Err(ErrRangeRequestsRefused).Str("mirror", s.Mirror.URL).Msg("falling back to single-writer download")
						s.role = roleWhole
						startOffset = 0
					} else {
						s.role = roleDiscard
					}
				}
				if writeAsDiscard {
					written += int64(n)
					if progress != nil {
						progress(int64(n))
					}
					if rerr != nil {
						break
					}
					continue
				}
			}
			if _, werr := pf.WriteLinear(buf[:n], startOffset+written); werr != nil {
				return written, newSlotError(ErrDisk, werr)
			}
			written += int64(n)
			if progress != nil {
				progress(int64(n))
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return written, newSlotError(classifyRequestErr(ctx, ErrTransport), fmt.Errorf("reading response body: %w", rerr))
		}
	}
	return written, nil
}

// classifyRequestErr reports fallback as the failure kind unless ctx has
// already been canceled or timed out, in which case the failure is a
// side effect of that cancellation rather than the mirror misbehaving.
func classifyRequestErr(ctx context.Context, fallback ErrKind) ErrKind {
	if ctx.Err() != nil {
		return ErrAborted
	}
	return fallback
}

// parseContentRange parses "bytes S-E/T" and reports success.
func parseContentRange(v string) (start, end, total int64, ok bool) {
	if v == "" {
		return 0, 0, 0, false
	}
	n, err := fmt.Sscanf(v, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return start, end, total, true
}
