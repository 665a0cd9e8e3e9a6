package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kagesort/prdl/internal/core"
	"github.com/kagesort/prdl/internal/depends"
	"github.com/kagesort/prdl/internal/output"
	"github.com/kagesort/prdl/internal/search"
	"github.com/kagesort/prdl/internal/utils"
)

// exit codes per spec.md's driver contract.
const (
	exitOK             = 0
	exitNothingToDo    = 1
	exitPartialFailure = 2
	exitDiskSpace      = 5
)

// diskSpaceMarginMiB is the fixed safety margin above the sum of job
// sizes required before the Engine is allowed to start, matching
// spec.md's exit-code-5 threshold: free_MiB < total_size_MiB + 1024.
const diskSpaceMarginMiB = 1024

// highThreadModeParallelThreshold is the --max_parallel value at or
// above which piece transfers get the socket tuning in
// internal/utils.setSocketOptions: past this many concurrent slots per
// job, the OS default socket buffers start to bottleneck throughput.
const highThreadModeParallelThreshold = 8

func newGetCmd() *cobra.Command {
	var urlListFile string

	cmd := &cobra.Command{
		Use:   "get [query...]",
		Short: "Resolve one or more search queries (or a --urllist file) and download the matching artifacts",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && urlListFile == "" {
				return fmt.Errorf("requires at least one query argument or --urllist")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fatal("loading config: %v", err)
			}

			log := utils.GetLogger("get")

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)

			var jobs []*core.DownloadJob
			var searchClient *search.Client
			if cfg.SearchURL != "" {
				searchClient = search.NewClient(cfg.SearchURL, utils.ClientConfig{ValidateTLS: cfg.ValidateTLS})
			}

			if urlListFile != "" {
				entries, err := utils.ReadDownloadList(urlListFile)
				if err != nil {
					fatal("reading url list: %v", err)
				}
				for _, entry := range entries {
					jobs = append(jobs, core.NewHTTPJob(entry.OutputPath, 0, 0, []string{entry.URL}))
				}
			}

			if len(args) > 0 {
				if searchClient == nil {
					fatal("search_url is required to resolve get queries")
				}
				for _, query := range args {
					results, err := searchClient.Fetch(ctx, query)
					if err != nil {
						fatal("searching for %q: %v", query, err)
					}
					built, buildErrs := search.BuildJobs(cfg.WritePath, results)
					for _, e := range buildErrs {
						log.Warn().Err(e).Str("query", query).Msg("dropping unbuildable search result")
					}
					jobs = append(jobs, built...)
				}
			}
			if len(jobs) == 0 {
				output.PrintWarning("Nothing matched the given queries")
				os.Exit(exitNothingToDo)
			}

			if cfg.FetchDepends {
				resolver := &searchResolver{client: searchClient, writePath: cfg.WritePath}
				jobs, err = depends.Expand(ctx, jobs, resolver)
				if err != nil {
					fatal("expanding dependencies: %v", err)
				}
			}

			for _, job := range jobs {
				job.ValidateTLS = cfg.ValidateTLS
			}

			if code := checkDiskSpace(cfg.WritePath, jobs); code != exitOK {
				os.Exit(code)
			}

			mgr := output.NewManager()
			jobIDs := make(map[*core.DownloadJob]int, len(jobs))
			for _, job := range jobs {
				jobIDs[job] = mgr.TrackJob(job)
			}
			mgr.StartDisplay()

			engine := core.NewEngine(cfg.MaxParallel)
			go func() {
				<-sigCh
				log.Warn().Msg("received interrupt, aborting")
				engine.Abort()
				cancel()
			}()

			highThreadMode := cfg.MaxParallel >= highThreadModeParallelThreshold
			clientFor := func(job *core.DownloadJob) core.HTTPDoer {
				return utils.NewClient(utils.ClientConfig{
					ValidateTLS:    job.ValidateTLS,
					HighThreadMode: highThreadMode,
				})
			}
			ok := engine.Run(ctx, jobs, clientFor)
			engine.Wait()

			for _, job := range jobs {
				id := jobIDs[job]
				if job.IsFinished() {
					mgr.Complete(id, "")
				} else {
					mgr.ReportError(id, fmt.Errorf("download did not complete"))
				}
			}
			mgr.StopDisplay()

			if ok {
				os.Exit(exitOK)
			}
			os.Exit(exitPartialFailure)
		},
	}
	cmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to a YAML file of direct-URL download entries")
	return cmd
}

// checkDiskSpace implements spec.md's exit-code-5 precheck: refuse to
// start the Engine if the write path's free space wouldn't cover the
// sum of every job's declared size plus a 1 GiB margin.
func checkDiskSpace(writePath string, jobs []*core.DownloadJob) int {
	var totalBytes int64
	for _, job := range jobs {
		if !job.IsFinished() {
			totalBytes += job.Size
		}
	}
	if totalBytes == 0 {
		return exitOK
	}
	free, err := utils.FreeBytes(writePath)
	if err != nil {
		logger := utils.GetLogger("get")
		logger.Warn().Err(err).Msg("could not determine free disk space, proceeding without the precheck")
		return exitOK
	}
	freeMiB := free / (1024 * 1024)
	totalMiB := uint64(totalBytes) / (1024 * 1024)
	if freeMiB < totalMiB+diskSpaceMarginMiB {
		output.PrintError(fmt.Sprintf("insufficient disk space: %d MiB free, need %d MiB", freeMiB, totalMiB+diskSpaceMarginMiB))
		return exitDiskSpace
	}
	return exitOK
}

// searchResolver adapts search.Client + search.BuildJob into the
// depends.Resolver interface used by dependency expansion.
type searchResolver struct {
	client    *search.Client
	writePath string
}

func (r *searchResolver) Resolve(ctx context.Context, name string) (*core.DownloadJob, error) {
	results, err := r.client.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.SpringName == name {
			return search.BuildJob(r.writePath, res)
		}
	}
	if len(results) > 0 {
		return search.BuildJob(r.writePath, results[0])
	}
	return nil, fmt.Errorf("no search result for dependency %q", name)
}
