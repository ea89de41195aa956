// Package cli renders Milo's terminal output: checkpoint summaries, status
// lines, backfill progress and interrupt handling.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Ledger palette.
var (
	ledgerBlue  = lipgloss.Color("#5B8DEF")
	paidGreen   = lipgloss.Color("#3FB68B")
	pendingGold = lipgloss.Color("#E8B04B")
	noteGray    = lipgloss.Color("#8A8F98")
	ruleGray    = lipgloss.Color("#3A3F47")
)

var (
	// TitleStyle renders box titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ledgerBlue)

	// SuccessStyle marks committed work and open checkpoints.
	SuccessStyle = lipgloss.NewStyle().Foreground(paidGreen)

	// WarningStyle marks skipped or partial work.
	WarningStyle = lipgloss.NewStyle().Foreground(pendingGold)

	// InfoStyle marks neutral status lines.
	InfoStyle = lipgloss.NewStyle().Foreground(ledgerBlue)

	// SubtleStyle renders secondary detail such as timestamps and channels.
	SubtleStyle = lipgloss.NewStyle().Foreground(noteGray)

	// BoldStyle renders section headings inside a summary.
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// BoxStyle frames a checkpoint summary or command report.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ruleGray).
			Padding(1, 2)
)

const (
	successIcon = "✓"
	warningIcon = "!"
	infoIcon    = "·"
	receiptIcon = "🧾"
)

// FormatSuccess formats a status line for completed work.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(successIcon + " " + message)
}

// FormatWarning formats a status line for skipped or partial work.
func FormatWarning(message string) string {
	return WarningStyle.Render(warningIcon + " " + message)
}

// FormatInfo formats a neutral status line.
func FormatInfo(message string) string {
	return InfoStyle.Render(infoIcon + " " + message)
}

// FormatTitle prefixes a title with the receipt icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(receiptIcon + " " + title)
}

// RenderBox frames content under a title.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}
