// Package ui renders the terminal report printed after a lift run.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nanana37/elfconv/internal/dcache"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	addrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	numStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	cachedStyle = lipgloss.NewStyle().Faint(true)
)

// RenderReport writes the per-trace table for one lift run. When colored is
// false every style is stripped.
func RenderReport(w io.Writer, report *dcache.LiftReport, colored, fromCache bool) {
	style := func(s lipgloss.Style, text string) string {
		if !colored {
			return text
		}
		return s.Render(text)
	}

	header := fmt.Sprintf("lifted %s: %d traces in %s", report.Binary, len(report.Traces), report.Elapsed.Round(time.Millisecond))
	if fromCache {
		header = fmt.Sprintf("%s: %d traces (cached report)", report.Binary, len(report.Traces))
		fmt.Fprintln(w, style(cachedStyle, header))
	} else {
		fmt.Fprintln(w, style(titleStyle, header))
	}

	wide := 0
	for _, tr := range report.Traces {
		if len(tr.Name) > wide {
			wide = len(tr.Name)
		}
	}
	for _, tr := range report.Traces {
		pad := strings.Repeat(" ", wide-len(tr.Name))
		line := fmt.Sprintf("  %s%s  %s  %s blocks, %s phis",
			style(nameStyle, tr.Name), pad,
			style(addrStyle, fmt.Sprintf("%#010x", tr.EntryVMA)),
			style(numStyle, fmt.Sprintf("%4d", tr.Blocks)),
			style(numStyle, fmt.Sprintf("%3d", tr.Phis)))
		if tr.TableSize > 0 {
			line += "  " + style(warnStyle, fmt.Sprintf("indirect table: %d", tr.TableSize))
		}
		fmt.Fprintln(w, line)
	}
}
