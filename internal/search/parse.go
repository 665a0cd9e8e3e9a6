package search

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kagesort/prdl/internal/core"
)

// DefaultPieceSize is used for every job built from a search result,
// since the metadata schema carries a whole-file MD5 but no per-piece
// SHA-1 list -- the whole file is checked against that digest once
// every piece has finished, instead of each piece individually.
const DefaultPieceSize = 1 << 20 // 1 MiB

var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrUnknownCategory is returned when a result's category does not
// match any recognized routing prefix.
type ErrUnknownCategory struct {
	Category string
}

func (e *ErrUnknownCategory) Error() string {
	return fmt.Sprintf("unrecognized category %q", e.Category)
}

// ParseResults decodes a JSON search response body into Results.
func ParseResults(data []byte) ([]Result, error) {
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return results, nil
}

// subdirFor routes a category string to its destination subdirectory,
// per spec.md's schema: "engine*" -> engine/, "map" -> maps/, "game" ->
// games/. Unknown categories are rejected so the caller can drop the
// job and log it, matching "unknown category strings are logged and
// the job is dropped."
func subdirFor(category string) (string, error) {
	switch {
	case strings.HasPrefix(category, "engine"):
		return "engine", nil
	case category == "map":
		return "maps", nil
	case category == "game":
		return "games", nil
	default:
		return "", &ErrUnknownCategory{Category: category}
	}
}

// sanitizeFilename strips everything but a conservative safe alphabet,
// grounded in the teacher's escaping approach for filesystem-bound
// strings pulled from remote metadata.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return filenameSanitizer.ReplaceAllString(name, "_")
}

// BuildJob converts one search Result into a DownloadJob rooted at
// writepath. It returns ErrUnknownCategory for unrecognized categories,
// matching spec.md's per-job CONFIG failure at setup time.
func BuildJob(writepath string, r Result) (*core.DownloadJob, error) {
	if len(r.Mirrors) == 0 {
		return nil, fmt.Errorf("%s: %w", r.Filename, core.ErrNoMirrors)
	}
	subdir, err := subdirFor(r.Category)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(writepath, subdir, sanitizeFilename(r.Filename))

	pieceSize := int64(0)
	if r.Size > 0 {
		pieceSize = DefaultPieceSize
	}
	job := core.NewHTTPJob(dest, r.Size, pieceSize, r.Mirrors)
	job.Category = r.Category
	job.Version = r.Version
	job.Depends = append([]string(nil), r.Depends...)

	if r.MD5 != "" {
		digest := core.NewMD5Digest()
		if err := digest.Set(r.MD5); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Filename, err)
		}
		job.WholeFileDigest = digest
	}

	return job, nil
}

// BuildJobs converts every result, skipping (and reporting) results
// whose category is unrecognized rather than failing the whole batch.
func BuildJobs(writepath string, results []Result) ([]*core.DownloadJob, []error) {
	var jobs []*core.DownloadJob
	var errs []error
	for _, r := range results {
		job, err := BuildJob(writepath, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}
