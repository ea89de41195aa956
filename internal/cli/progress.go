package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// Progress is an open-ended counter for runs whose length is unknown up front.
type Progress struct {
	bar     *progressbar.ProgressBar
	handled int
}

// NewProgress creates a spinner-style progress bar on w.
func NewProgress(w io.Writer, description string) *Progress {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &Progress{bar: bar}
}

// Update moves the bar to handled. Counts never go backwards.
func (p *Progress) Update(handled int) {
	if handled <= p.handled {
		return
	}
	if err := p.bar.Add(handled - p.handled); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	p.handled = handled
}

// Handled returns the last reported count.
func (p *Progress) Handled() int {
	return p.handled
}

// Finish completes the bar.
func (p *Progress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}
