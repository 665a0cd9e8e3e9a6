package depends

import (
	"context"
	"fmt"
	"testing"

	"github.com/kagesort/prdl/internal/core"
)

type fakeResolver struct {
	jobs map[string]*core.DownloadJob
}

func (f *fakeResolver) Resolve(_ context.Context, name string) (*core.DownloadJob, error) {
	job, ok := f.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown dependency %q", name)
	}
	return job, nil
}

func newTestJob(dest, version string, depends ...string) *core.DownloadJob {
	job := core.NewHTTPJob(dest, 100, 0, []string{"https://mirror.example/" + dest})
	job.Version = version
	job.Depends = depends
	return job
}

func TestExpandPrependsDependenciesBeforeDependent(t *testing.T) {
	engineJob := newTestJob("/out/engine/105.1.1.tar.gz", "105.1.1")
	resolver := &fakeResolver{jobs: map[string]*core.DownloadJob{
		"engine-105.1.1": engineJob,
	}}

	game := newTestJob("/out/games/mygame.sdz", "1.0", "engine-105.1.1")
	expanded, err := Expand(context.Background(), []*core.DownloadJob{game}, resolver)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(expanded) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(expanded))
	}
	if expanded[0] != engineJob {
		t.Errorf("expected dependency first, got %v", expanded[0])
	}
	if expanded[1] != game {
		t.Errorf("expected dependent job last, got %v", expanded[1])
	}
}

func TestExpandDeduplicatesSharedDependency(t *testing.T) {
	shared := newTestJob("/out/engine/105.1.1.tar.gz", "105.1.1")
	resolver := &fakeResolver{jobs: map[string]*core.DownloadJob{
		"engine-105.1.1": shared,
	}}

	gameA := newTestJob("/out/games/a.sdz", "1.0", "engine-105.1.1")
	gameB := newTestJob("/out/games/b.sdz", "1.0", "engine-105.1.1")

	expanded, err := Expand(context.Background(), []*core.DownloadJob{gameA, gameB}, resolver)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(expanded) != 3 {
		t.Fatalf("expected 3 jobs (1 shared dependency + 2 games), got %d", len(expanded))
	}
}

func TestExpandFailsOnUnresolvableDependency(t *testing.T) {
	resolver := &fakeResolver{jobs: map[string]*core.DownloadJob{}}
	game := newTestJob("/out/games/a.sdz", "1.0", "missing-engine")
	if _, err := Expand(context.Background(), []*core.DownloadJob{game}, resolver); err == nil {
		t.Fatal("expected error for unresolvable dependency")
	}
}

func TestPreferNewer(t *testing.T) {
	if !preferNewer("1.0.0", "1.1.0") {
		t.Error("expected 1.1.0 to be preferred over 1.0.0")
	}
	if preferNewer("1.1.0", "1.0.0") {
		t.Error("expected 1.0.0 to not be preferred over 1.1.0")
	}
	if preferNewer("not-a-version", "also-not") {
		t.Error("malformed versions should never compare as newer")
	}
}
