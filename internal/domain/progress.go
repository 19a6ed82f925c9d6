package domain

import (
	"fmt"
	"math"
	"time"
)

// ProgressCells is the width of the break progress bar.
const ProgressCells = 30

// FormatClock renders d as MM:SS, rounded to the nearest second.
// Non-positive durations render as 00:00.
func FormatClock(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	total := int(math.Round(d.Seconds()))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FilledCells returns how many of cells are filled after elapsing
// (total - remaining) of total.
func FilledCells(remaining, total time.Duration, cells int) int {
	if total <= 0 {
		return cells
	}
	progress := float64(total-remaining) / float64(total)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	return int(math.Floor(progress * float64(cells)))
}
