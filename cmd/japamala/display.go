package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/japamala/internal/app"
	"github.com/MrWong99/japamala/internal/config"
)

// Terminal colours.
var (
	colorPrimary = lipgloss.Color("#00ff9f")
	colorDim     = lipgloss.Color("#6e7681")
	colorWarn    = lipgloss.Color("#ffb86c")
)

// styles are the lipgloss styles shared by every command.
var styles = struct {
	title  lipgloss.Style
	label  lipgloss.Style
	mantra lipgloss.Style
	help   lipgloss.Style
	warn   lipgloss.Style
	box    lipgloss.Style
}{
	title:  lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
	label:  lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
	mantra: lipgloss.NewStyle().Italic(true),
	help:   lipgloss.NewStyle().Foreground(colorDim),
	warn:   lipgloss.NewStyle().Foreground(colorWarn),
	box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorPrimary).
		Padding(0, 1),
}

// liveLineWidth bounds the redrawn status line so it never wraps.
const liveLineWidth = 100

// printStartupSummary writes the saved mantra and active settings in a box.
func printStartupSummary(out io.Writer, cfg *config.Config, a *app.App) {
	st := a.Status()

	mantra := styles.warn.Render("none recorded")
	if st.Mantra != "" {
		mantra = styles.mantra.Render(st.Mantra)
	}
	recogniser := cfg.Providers.STT.Name
	for _, fb := range cfg.Providers.STTFallbacks {
		recogniser += ", " + fb.Name
	}

	rows := [][2]string{
		{"Mantra", mantra},
		{"Silence threshold", fmt.Sprintf("%ds", st.SilenceThresholdSecs)},
		{"Recogniser", recogniser},
		{"Reminder", cfg.Providers.Reminder.Name},
		{"Audio", cfg.Providers.Audio.Name},
	}
	if cfg.Server.ListenAddr != "" {
		rows = append(rows, [2]string{"Status endpoint", "http://" + cfg.Server.ListenAddr + "/status"})
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("japamala " + version))
	for _, r := range rows {
		b.WriteString("\n" + styles.label.Render(fmt.Sprintf("%-18s", r[0])) + " " + r[1])
	}
	fmt.Fprintln(out, styles.box.Render(b.String()))
}

// liveDisplay redraws one status line every 250ms until ctx is done.
func liveDisplay(ctx context.Context, out io.Writer, status func() app.Status, render func(app.Status) string) {
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fmt.Fprint(out, "\r\033[K"+render(status()))
		}
	}
}

// renderListen shows connection state, chant time and the tail of the
// transcript.
func renderListen(st app.Status) string {
	state := styles.label.Render("listening")
	switch {
	case st.LastError != "":
		state = styles.warn.Render("stopped: " + st.LastError)
	case st.Listening && !st.Connected:
		state = styles.warn.Render("reconnecting")
	}
	prefix := fmt.Sprintf("%s %s ", state, styles.help.Render(formatChant(st.ChantSeconds)))
	heard := strings.TrimSpace(st.Transcript + " " + st.Interim)
	return prefix + tail(heard, liveLineWidth-lipgloss.Width(prefix))
}

// renderRecord shows what the recogniser has heard so far.
func renderRecord(st app.Status) string {
	prefix := styles.label.Render("heard:") + " "
	if st.RecordingPreview == "" {
		return prefix + styles.help.Render("…")
	}
	return prefix + styles.mantra.Render(tail(st.RecordingPreview, liveLineWidth-lipgloss.Width(prefix)))
}

// formatChant renders seconds as m:ss.
func formatChant(secs int) string {
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// tail keeps the last n runes of s, marking a cut with an ellipsis.
func tail(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}
