package core

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newPieceDigest(b []byte) *Digest {
	d := NewSHA1Digest()
	d.Set(sha1Hex(b))
	return d
}

// rangeServer serves a fixed body, honoring Range requests, and counts
// how many requests it received.
func rangeServer(t *testing.T, body []byte) (*httptest.Server, *int) {
	t.Helper()
	reqCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqCount++
		rng := r.Header.Get("Range")
		if rng == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int64
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
	return srv, &reqCount
}

func TestEngineHappyPathMultiPiece(t *testing.T) {
	body := []byte("abcdefghijklmnopqrstuvwxyz01234") // 31 bytes: 3 pieces of 8 and a 7-byte tail
	srv, _ := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	// Two mirror entries pointed at the same server so the fair-share
	// scheduler actually splits the piece list across concurrent slots
	// instead of handing the whole file to a single request.
	job := NewHTTPJob(dest, int64(len(body)), 8, []string{srv.URL, srv.URL})
	for i := range job.Pieces {
		start := i * 8
		end := start + 8
		if end > len(body) {
			end = len(body)
		}
		job.Pieces[i].ExpectedSHA1 = newPieceDigest(body[start:end])
	}

	e := NewEngine(2)
	ok := e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return srv.Client() })
	e.Wait()

	if !ok {
		t.Fatal("expected Run to report success")
	}
	if !job.IsFinished() {
		t.Fatal("expected job finished")
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("content mismatch: got %q, want %q", got, body)
	}
}

func TestEngineResumesFromExistingCorrectPieces(t *testing.T) {
	body := []byte("abcdefghijklmnopqrstuvwxyz01234")
	srv, reqCount := rangeServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	// Pre-seed the destination file with the correct bytes already
	// written, as if from a prior interrupted run.
	if err := os.WriteFile(dest, body, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	job := NewHTTPJob(dest, int64(len(body)), 8, []string{srv.URL})
	for i := range job.Pieces {
		start := i * 8
		end := start + 8
		if end > len(body) {
			end = len(body)
		}
		job.Pieces[i].ExpectedSHA1 = newPieceDigest(body[start:end])
	}

	e := NewEngine(2)
	ok := e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return srv.Client() })
	e.Wait()

	if !ok || !job.IsFinished() {
		t.Fatal("expected job to finish via on-disk verification")
	}
	if *reqCount != 0 {
		t.Errorf("expected zero network requests when all pieces already verify, got %d", *reqCount)
	}
}

func TestEngineFailsOverToSecondMirror(t *testing.T) {
	body := []byte("hello world this is a test file")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good, _ := rangeServer(t, body)
	defer good.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	job := NewHTTPJob(dest, int64(len(body)), int64(len(body)), []string{bad.URL, good.URL})
	job.Pieces[0].ExpectedSHA1 = newPieceDigest(body)

	e := NewEngine(1)
	ok := e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return http.DefaultClient })
	e.Wait()

	if !ok || !job.IsFinished() {
		t.Fatal("expected job to finish after failing over to the good mirror")
	}
	if job.Mirrors[0].Status != MirrorBroken {
		t.Error("expected the failing mirror to be marked broken")
	}
}

func TestEngineSingleWriterFallbackOnRangeRefusal(t *testing.T) {
	body := []byte("0123456789abcdefghijklmnopqrstuv") // 32 bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore Range headers entirely and always return the full body,
		// as a mirror that doesn't support byte ranges would.
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	// Two mirror entries pointed at the same server so ClampParallelism
	// allows more than one concurrent slot, which is what actually puts
	// two slots in a race for the single-writer latch.
	job := NewHTTPJob(dest, int64(len(body)), 8, []string{srv.URL, srv.URL})
	for i := range job.Pieces {
		start := i * 8
		end := start + 8
		if end > len(body) {
			end = len(body)
		}
		job.Pieces[i].ExpectedSHA1 = newPieceDigest(body[start:end])
	}

	e := NewEngine(2)
	e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return srv.Client() })
	e.Wait()

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("content mismatch under single-writer fallback: got %q, want %q", got, body)
	}
	if _, ok := job.SingleWriter(); !ok {
		t.Error("expected single writer to be latched")
	}
}

func TestEngineConditionalGetNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	payload := []byte("payload")
	if err := os.WriteFile(dest, payload, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(dest, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	job := NewHTTPJob(dest, int64(len(payload)), 0, []string{srv.URL})

	e := NewEngine(1)
	ok := e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return srv.Client() })
	e.Wait()

	if !ok || !job.IsFinished() {
		t.Fatal("expected 304 response to finish the job without rewriting it")
	}
}

func TestEngineAbortStopsSchedulingNewSlots(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("x"))
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	job := NewHTTPJob(dest, 1, 0, []string{srv.URL})

	e := NewEngine(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Abort()
		cancel()
	}()
	ok := e.Run(ctx, []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return srv.Client() })
	e.Wait()

	if ok {
		t.Error("expected Run to report failure after abort")
	}
	if job.IsFinished() {
		t.Error("expected job to remain unfinished after abort")
	}
}

func TestEngineNoUsableMirrorsFailsJobImmediately(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	job := NewHTTPJob(dest, 10, 0, nil)

	e := NewEngine(1)
	ok := e.Run(context.Background(), []*DownloadJob{job}, func(*DownloadJob) HTTPDoer { return http.DefaultClient })
	e.Wait()

	if ok {
		t.Error("expected Run to report failure with zero mirrors")
	}
	if job.State != JobFailed {
		t.Errorf("job.State = %v, want JobFailed", job.State)
	}
}
