package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/kagesort/prdl/internal/core"
	"github.com/kagesort/prdl/internal/utils"
)

// JobDisplay is one DownloadJob's row in the live progress display. It
// holds the byte counters the job's ProgressFunc reports plus a live
// reference to the job itself, so piece and mirror counts are read
// straight from core.DownloadJob at render time instead of being
// duplicated into a second copy of the same state.
type JobDisplay struct {
	Job         *core.DownloadJob
	Index       int
	DoneBytes   int64
	TotalBytes  int64
	Status      string // "pending", "running", "success", "error"
	Message     string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	FunctionName string
	Error        error
	Time         time.Time
}

// Manager renders every tracked DownloadJob's progress to the terminal
// on a fixed tick, redrawing in place with ANSI cursor movement.
type Manager struct {
	jobs        map[int]*JobDisplay
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	pauseCh     chan bool
	isPaused    bool
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		jobs:        make(map[int]*JobDisplay),
		errors:      []ErrorReport{},
		doneCh:      make(chan struct{}),
		pauseCh:     make(chan bool),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Pause() {
	if !m.isPaused {
		m.pauseCh <- true
		m.isPaused = true
	}
}

func (m *Manager) Resume() {
	if m.isPaused {
		m.pauseCh <- false
		m.isPaused = false
	}
}

// TrackJob registers job for display and wires its ProgressFunc so
// every reported (done, total) byte pair updates that job's row. The
// returned ID is fed to Complete/ReportError once the Engine resolves
// the job's terminal state.
func (m *Manager) TrackJob(job *core.DownloadJob) int {
	m.mutex.Lock()
	m.jobCount++
	id := m.jobCount
	m.jobs[id] = &JobDisplay{
		Job:         job,
		Index:       id,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	m.mutex.Unlock()

	job.ProgressFunc = func(done, total int64) {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		info, ok := m.jobs[id]
		if !ok {
			return
		}
		info.DoneBytes = done
		info.TotalBytes = total
		info.Status = "running"
		info.LastUpdated = time.Now()
	}
	return id
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Job.DestinationPath)
		}
		info.Message = message
		info.Complete = true
		info.Status = "success"
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			FunctionName: info.Job.DestinationPath,
			Error:        err,
			Time:         time.Now(),
		})
	}
}

func (m *Manager) ClearAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, info := range m.jobs {
		info.Message = ""
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success", "pass":
		return successStyle.Render(StyleSymbols["pass"])
	case "error", "fail":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sortJobs() (active, pending, completed []*JobDisplay) {
	var all []*JobDisplay
	for _, info := range m.jobs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, f := range all {
		switch {
		case f.Complete:
			completed = append(completed, f)
		case f.Status == "pending":
			pending = append(pending, f)
		default:
			active = append(active, f)
		}
	}
	return active, pending, completed
}

// jobLine renders one active job's domain state -- piece counts and
// usable mirror count from the live core.DownloadJob, plus the byte
// progress bar -- as a single display line.
func (m *Manager) jobLine(info *JobDisplay) string {
	job := info.Job
	elapsed := time.Since(info.StartTime).Round(time.Second).Seconds()

	barWidth := 30
	if w := getTerminalWidth(); w > 0 && w/4 < barWidth {
		barWidth = max(10, w/4)
	}
	bar := PrintProgressBar(max(0, info.DoneBytes), info.TotalBytes, barWidth)

	var detail string
	if total := job.TotalPieceCount(); total > 0 {
		usable := job.UsableMirrorCount()
		mirrorCount := len(job.Mirrors)
		detail = fmt.Sprintf("%d/%d pieces %s %d/%d mirrors up", job.FinishedPieceCount(), total, StyleSymbols["dot"], usable, mirrorCount)
	} else {
		detail = fmt.Sprintf("%d/%d mirrors up", job.UsableMirrorCount(), len(job.Mirrors))
	}

	return fmt.Sprintf("%s%s %s %s %s %s",
		bar,
		debugStyle.Render(job.DestinationPath),
		StyleSymbols["bullet"],
		debugStyle.Render(detail),
		StyleSymbols["bullet"],
		debugStyle.Render(FormatSpeed(info.DoneBytes, elapsed)))
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, termHeight, _ := term.GetSize(int(os.Stdout.Fd()))
	if termHeight <= 0 {
		termHeight = 24
	}
	availableLines := termHeight - 3

	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}

	lineCount := 0
	activeJobs, pendingJobs, completedJobs := m.sortJobs()

	totalNeeded := len(activeJobs) + len(pendingJobs) + len(completedJobs)
	if totalNeeded > availableLines {
		maxCompleted := availableLines - (totalNeeded - len(completedJobs))
		if maxCompleted < 0 {
			maxCompleted = 0
		}
		if len(completedJobs) > maxCompleted {
			completedJobs = completedJobs[len(completedJobs)-maxCompleted:]
		}
	}

	for _, f := range activeJobs {
		if lineCount >= availableLines {
			break
		}
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2), m.jobLine(f))
		lineCount++
	}

	for _, f := range pendingJobs {
		if lineCount >= availableLines {
			break
		}
		statusDisplay := m.GetStatusIndicator(f.Status)
		fmt.Printf("%s%s %s\n", strings.Repeat(" ", 2), statusDisplay, pendingStyle.Render(fmt.Sprintf("Waiting: %s", f.Job.DestinationPath)))
		lineCount++
	}

	if len(completedJobs) > 10 && lineCount < availableLines {
		PrintInfo(fmt.Sprintf("%s%d downloads completed with varying hidden status ...", strings.Repeat(" ", 2), len(completedJobs)-8))
		completedJobs = completedJobs[len(completedJobs)-8:]
		lineCount++
	}

	for _, f := range completedJobs {
		if lineCount >= availableLines {
			break
		}
		statusDisplay := m.GetStatusIndicator(f.Status)
		totalTime := f.LastUpdated.Sub(f.StartTime).Round(time.Second)

		var styledMessage string
		switch f.Status {
		case "success":
			styledMessage = successStyle.Render(f.Message)
		case "error":
			styledMessage = errorStyle.Render(fmt.Sprintf("%s: %v", f.Job.DestinationPath, f.Error))
		default:
			styledMessage = pendingStyle.Render(f.Message)
		}
		fmt.Printf("%s%s %s %s\n", strings.Repeat(" ", 2), statusDisplay, debugStyle.Render(totalTime.String()), styledMessage)
		lineCount++
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	utils.SetQuietMode(true)
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.isPaused {
					m.updateDisplay()
				}
			case pauseState := <-m.pauseCh:
				m.isPaused = pauseState
			case <-m.doneCh:
				m.ClearAll()
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	utils.SetQuietMode(false)
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", 2) + errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Printf("%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Job: %s", err.FunctionName)))
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Println()
	var success, failures int
	for _, info := range m.jobs {
		if info.Status == "success" {
			success++
		} else if info.Status == "error" {
			failures++
		}
	}
	fmt.Println(strings.Repeat(" ", 2) + success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.jobs))))
	if failures > 0 {
		fmt.Println(strings.Repeat(" ", 2) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.jobs))))
	}
	m.displayErrors()
	fmt.Println()
}
