package cli

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/haivivi/globalfifo/pkg/fifo"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Warn    lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#d29922"),
	Error:   lipgloss.Color("#f85149"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Error  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		OK:     lipgloss.NewStyle().Foreground(t.Primary),
		Warn:   lipgloss.NewStyle().Foreground(t.Warn),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// DefaultStyles are the styles of DefaultTheme.
var DefaultStyles = NewStyles(DefaultTheme)

// RenderTable draws t with a rounded border.
func RenderTable(s Styles, t Tabular) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header
			}
			return s.Cell
		}).
		Headers(t.Header()...).
		Rows(t.Rows()...).
		String()
}

// StatTable lays out device snapshots one row per device.
type StatTable []fifo.Stat

// Value returns the snapshots for structured formats.
func (st StatTable) Value() any {
	return []fifo.Stat(st)
}

func (st StatTable) Header() []string {
	return []string{"DEVICE", "LEN", "CAPACITY", "FILL", "SUBSCRIBERS", "POLLERS", "READ", "WRITTEN", "NOTIFIED", "FAILED"}
}

func (st StatTable) Rows() [][]string {
	rows := make([][]string, 0, len(st))
	for _, s := range st {
		rows = append(rows, []string{
			DeviceName(s.Index),
			strconv.Itoa(s.Len),
			FormatBytes(int64(s.Capacity)),
			FillBar(s.Len, s.Capacity, 10),
			strconv.Itoa(s.Subscribers),
			strconv.Itoa(s.Pollers),
			FormatBytes(int64(s.BytesRead)),
			FormatBytes(int64(s.BytesWritten)),
			strconv.FormatUint(s.Notifications, 10),
			strconv.FormatUint(s.NotifyFailures, 10),
		})
	}
	return rows
}

// DeviceName returns the node name a device index stands for.
func DeviceName(index int) string {
	return "globalfifo" + strconv.Itoa(index)
}

// FillBar draws n/capacity as a bar of width cells.
func FillBar(n, capacity, width int) string {
	if capacity <= 0 || width <= 0 {
		return ""
	}
	filled := min(width, (n*width+capacity-1)/capacity)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
