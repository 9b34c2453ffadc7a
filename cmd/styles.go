package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/kbsession/internal/history"
	"github.com/zjrosen/kbsession/internal/keybase"
)

var (
	labelStyle     = lipgloss.NewStyle().Bold(true).Width(12)
	loggedInStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#047857", Dark: "#10B981"})
	loggedOutStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#EF4444"})
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	headerStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

func stateText(loggedIn bool) string {
	if loggedIn {
		return loggedInStyle.Render("logged in")
	}
	return loggedOutStyle.Render("logged out")
}

func orNone(s string) string {
	if s == "" {
		return subtleStyle.Render("(none)")
	}
	return s
}

// renderStatus formats a status for the terminal.
func renderStatus(st keybase.StatusResponse) string {
	rows := [][2]string{
		{"State", stateText(st.LoggedIn)},
		{"Username", orNone(st.Username)},
	}
	if st.Device != (keybase.DeviceInfo{}) {
		provisioned := "no"
		if st.Device.Provisioned {
			provisioned = "yes"
		}
		rows = append(rows,
			[2]string{"Device", fmt.Sprintf("%s %s", orNone(st.Device.Name), subtleStyle.Render("("+st.Device.Type+")"))},
			[2]string{"Device ID", orNone(st.Device.DeviceID)},
			[2]string{"Provisioned", provisioned},
		)
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), r[1]))
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderHistory formats history entries, newest first, one per line.
func renderHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return subtleStyle.Render("no history recorded") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Recorded status history"))
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-10s %s %s\n",
			subtleStyle.Render(e.RecordedAt.Local().Format(time.DateTime)),
			e.Operation,
			stateText(e.Status.LoggedIn),
			orNone(e.Status.Username))
	}
	return b.String()
}
