// Package depends implements the one-shot dependency expansion pass
// that runs before the Engine starts: each job's Depends list of
// springnames is resolved to its own DownloadJob and prepended to the
// batch, deduplicated by destination path.
package depends

import (
	"context"
	"fmt"

	hashiversion "github.com/hashicorp/go-version"

	"github.com/kagesort/prdl/internal/core"
	"github.com/kagesort/prdl/internal/utils"
)

// Resolver looks up a dependency by name and returns the job that
// would fetch it. A search.Client wrapped with search.BuildJob
// satisfies this in the CLI driver.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*core.DownloadJob, error)
}

var log = utils.GetLogger("depends")

// Expand walks every job's Depends list and returns the original jobs
// with resolved dependency jobs prepended ahead of their dependents,
// deduplicated by dependency name. It is topological-indifferent per
// spec.md's Design Notes -- a dependency of a dependency is resolved
// through the same recursive walk, not sorted into strict layers. When
// two different jobs pull in the same dependency name, the resolution
// with the newer version wins, per preferNewer.
func Expand(ctx context.Context, jobs []*core.DownloadJob, resolver Resolver) ([]*core.DownloadJob, error) {
	byName := make(map[string]*core.DownloadJob)
	var ordered []*core.DownloadJob
	inPath := make(map[string]bool) // destination paths already in ordered

	var resolveDep func(name string) error
	resolveDep = func(name string) error {
		depJob, err := resolver.Resolve(ctx, name)
		if err != nil {
			return fmt.Errorf("resolving dependency %q: %w", name, err)
		}

		if existing, ok := byName[name]; ok {
			if !preferNewer(existing.Version, depJob.Version) {
				return nil
			}
			log.Info().Str("dependency", name).Str("from", existing.Version).Str("to", depJob.Version).Msg("newer dependency version pulled in")
			byName[name] = depJob
			for i, j := range ordered {
				if j == existing {
					ordered[i] = depJob
					delete(inPath, existing.DestinationPath)
					inPath[depJob.DestinationPath] = true
				}
			}
			return nil
		} else {
			for _, dep := range depJob.Depends {
				if err := resolveDep(dep); err != nil {
					return err
				}
			}
		}

		byName[name] = depJob
		if !inPath[depJob.DestinationPath] {
			ordered = append(ordered, depJob)
			inPath[depJob.DestinationPath] = true
		}
		return nil
	}

	for _, job := range jobs {
		for _, dep := range job.Depends {
			if err := resolveDep(dep); err != nil {
				return nil, err
			}
		}
		if !inPath[job.DestinationPath] {
			ordered = append(ordered, job)
			inPath[job.DestinationPath] = true
		}
	}

	log.Info().Int("input", len(jobs)).Int("expanded", len(ordered)).Msg("dependency expansion complete")
	return ordered, nil
}

// preferNewer reports whether candidate's version string is strictly
// newer than current's. Malformed version strings compare as
// not-newer, so the first resolution wins rather than panicking on an
// unparseable springname version suffix.
func preferNewer(current, candidate string) bool {
	cv, err := hashiversion.NewVersion(current)
	if err != nil {
		return false
	}
	nv, err := hashiversion.NewVersion(candidate)
	if err != nil {
		return false
	}
	return nv.GreaterThan(cv)
}
