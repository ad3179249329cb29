package cli

import (
	"fmt"
	"strconv"
	"time"
)

// FormatDuration renders d as "850ms", "1.5s" or "2m5.5s".
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	switch {
	case ms < 1000:
		return strconv.FormatInt(ms, 10) + "ms"
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm%.1fs", ms/60_000, float64(ms%60_000)/1000)
}

// FormatBytes renders a byte count for tables: "512 B", "4.0 KB", "1.00 MB".
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return strconv.FormatInt(n, 10) + " B"
}

// Quote renders device data for a terminal: printable text as is, other
// bytes escaped.
func Quote(data []byte) string {
	for _, b := range data {
		if (b < 0x20 && b != '\n' && b != '\t') || b == 0x7f {
			return fmt.Sprintf("%q", data)
		}
	}
	return string(data)
}
