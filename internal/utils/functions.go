package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}

// CleanLogFile removes the module's log file from dir, if present.
// Unlike the teacher's chunked downloader, piece files are written
// directly at their destination path (resumed by size match) rather
// than staged under a temp directory, so there is no per-download temp
// tree left behind to sweep.
func CleanLogFile(dir string) error {
	logPath := filepath.Join(dir, LogFile)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(logPath)
}

// ReadDownloadList parses a YAML list of direct-URL download entries,
// the non-search construction path spec.md's Lifecycle section allows
// alongside jobs built from search results.
func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading url list %q: %w", filePath, err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing url list %q: %w", filePath, err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("url list entry %d: missing url", i+1)
		}
		if entry.OutputPath == "" {
			return nil, fmt.Errorf("url list entry %d: missing output path", i+1)
		}
	}
	return entries, nil
}
