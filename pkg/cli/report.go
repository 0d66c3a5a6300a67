// Package cli provides terminal output helpers for the voxwire commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for report output.
type Theme struct {
	Pass lipgloss.Color
	Fail lipgloss.Color
	Warn lipgloss.Color
	Dim  lipgloss.Color // Dimmed detail text
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Pass: lipgloss.Color("#00ff9f"),
	Fail: lipgloss.Color("#ff5f87"),
	Warn: lipgloss.Color("#ffaf00"),
	Dim:  lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Pass  lipgloss.Style
	Fail  lipgloss.Style
	Warn  lipgloss.Style
	Dim   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true),
		Pass:  lipgloss.NewStyle().Foreground(t.Pass),
		Fail:  lipgloss.NewStyle().Bold(true).Foreground(t.Fail),
		Warn:  lipgloss.NewStyle().Foreground(t.Warn),
		Dim:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

type rowStatus int

const (
	statusPass rowStatus = iota
	statusFail
	statusWarn
	statusSkip
)

type row struct {
	status rowStatus
	name   string
	detail string
}

// Report collects named check results and renders them as a styled list
// with a summary line.
type Report struct {
	styles Styles
	title  string
	rows   []row
}

// NewReport creates a report with the default theme.
func NewReport(title string) *Report {
	return &Report{styles: NewStyles(DefaultTheme), title: title}
}

// Pass records a successful check. detail may be empty.
func (r *Report) Pass(name, detail string) {
	r.rows = append(r.rows, row{status: statusPass, name: name, detail: detail})
}

// Fail records a failed check.
func (r *Report) Fail(name string, err error) {
	r.rows = append(r.rows, row{status: statusFail, name: name, detail: err.Error()})
}

// Warn records a check that passed with a caveat.
func (r *Report) Warn(name, detail string) {
	r.rows = append(r.rows, row{status: statusWarn, name: name, detail: detail})
}

// Skip records a check that did not apply.
func (r *Report) Skip(name, detail string) {
	r.rows = append(r.rows, row{status: statusSkip, name: name, detail: detail})
}

// Failed reports whether any recorded check failed.
func (r *Report) Failed() bool {
	for _, w := range r.rows {
		if w.status == statusFail {
			return true
		}
	}
	return false
}

// Render returns the styled report text.
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString(r.styles.Title.Render(r.title))
	b.WriteString("\n")

	failed := 0
	for _, w := range r.rows {
		var mark string
		switch w.status {
		case statusFail:
			mark = r.styles.Fail.Render("✗")
			failed++
		case statusWarn:
			mark = r.styles.Warn.Render("⚠")
		case statusSkip:
			mark = r.styles.Dim.Render("-")
		default:
			mark = r.styles.Pass.Render("✓")
		}
		b.WriteString("  " + mark + " " + w.name)
		if w.detail != "" {
			b.WriteString("  " + r.styles.Dim.Render(w.detail))
		}
		b.WriteString("\n")
	}

	if failed > 0 {
		b.WriteString(r.styles.Fail.Render(fmt.Sprintf("%d of %d checks failed", failed, len(r.rows))))
	} else {
		b.WriteString(r.styles.Pass.Render(fmt.Sprintf("all %d checks passed", len(r.rows))))
	}
	b.WriteString("\n")
	return b.String()
}
