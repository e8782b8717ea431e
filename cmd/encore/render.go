package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"goflare.io/encore"
)

const defaultWidth = 100

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Faint(true)
	platformStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	scoreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func renderResults(out io.Writer, rs *encore.ResultSet) {
	source := "live"
	if rs.Cached {
		source = "cached"
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d results", len(rs.Records)))+dimStyle.Render(" ("+source+")"))
	if len(rs.Unavailable) > 0 {
		fmt.Fprintln(out, warnStyle.Render("unavailable: "+strings.Join(rs.Unavailable, ", ")))
	}
	if rs.Empty() {
		fmt.Fprintln(out, dimStyle.Render("Nothing found."))
		return
	}

	width := outputWidth(out)
	for _, r := range rs.Records {
		prefix := fmt.Sprintf("%3d  %-10s  ", r.Score, r.Platform)
		line := r.Title
		if r.Artist != "" {
			line += " - " + r.Artist
		}
		if r.Duration > 0 {
			line += " [" + r.Duration.Round(time.Second).String() + "]"
		}
		line = truncate(line, width-utf8.RuneCountInString(prefix))

		fmt.Fprintf(out, "%s  %s  %s\n",
			scoreStyle.Render(fmt.Sprintf("%3d", r.Score)),
			platformStyle.Render(fmt.Sprintf("%-10s", r.Platform)),
			line)
		if r.URL != "" {
			fmt.Fprintf(out, "%s%s\n", strings.Repeat(" ", utf8.RuneCountInString(prefix)), dimStyle.Render(r.URL))
		}
	}
}

func renderStatus(out io.Writer, st encore.Status) {
	fmt.Fprintln(out, headerStyle.Render("Platforms")+dimStyle.Render(" (store: "+st.Store+")"))
	if len(st.Platforms) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No platforms configured."))
	}
	for _, p := range st.Platforms {
		state := okStyle.Render("closed")
		switch {
		case !p.Enabled:
			state = dimStyle.Render("disabled")
		case p.CircuitOpen:
			state = warnStyle.Render("open")
		}
		client := dimStyle.Render("no client")
		if p.HasClient {
			client = fmt.Sprintf("client %s idle %s", shortID(p.ClientID), p.ClientIdle.Round(time.Second))
		}
		fmt.Fprintf(out, "%s  %-8s  failures %d/%d  %s\n",
			platformStyle.Render(fmt.Sprintf("%-10s", p.Name)), state, p.Failures, st.Threshold, client)
	}

	m := st.Metrics
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf(
		"searches %d  hits %d  misses %d  trips %d  auth failures %d  platform errors %d",
		m.Searches, m.Hits, m.Misses, m.CircuitTrips, m.AuthFailures, m.PlatformErrors)))
}

func outputWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return defaultWidth
}

func truncate(s string, width int) string {
	if width < 8 {
		width = 8
	}
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
