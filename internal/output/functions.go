package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/kagesort/prdl/internal/utils"
)

// FormatBytes converts bytes to human-readable format.
func FormatBytes(bytes uint64) string {
	return utils.FormatBytes(bytes)
}

// FormatSpeed calculates and formats download speed.
func FormatSpeed(bytes int64, elapsed float64) string {
	return utils.FormatSpeed(bytes, elapsed)
}

// PrintProgressBar creates a progress bar string
func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // Default fallback width
	}
	return width
}

