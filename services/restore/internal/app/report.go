package app

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Report summarizes one restore run.
type Report struct {
	RunID        string
	Mode         Mode
	DryRun       bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Migrated     map[string]int
	Skipped      map[string]int
	Verification Verification
	Warnings     []string
}

// Critical reports whether the run finished in a degraded state.
func (r Report) Critical() bool {
	return r.Verification.Critical
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C"))
)

// reportEntities fixes the row order of the counts table.
var reportEntities = []string{entityUsers, entityBooks, entityPages, entityMessages, entityReplies, entityUploads, entityContent, entityRecords}

// Render writes the report as text.
func (r Report) Render(w io.Writer) error {
	var b strings.Builder
	header := "Restore report"
	if r.DryRun {
		header += " (dry run)"
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	if r.RunID != "" {
		fmt.Fprintf(&b, "run %s, mode %s, took %s\n", r.RunID, r.Mode, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	counts := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("entity", "restored", "skipped")
	for _, entity := range orderedEntities(r.Migrated, r.Skipped) {
		counts.Row(entity, strconv.Itoa(r.Migrated[entity]), strconv.Itoa(r.Skipped[entity]))
	}
	b.WriteString(counts.String())
	b.WriteString("\n\n")

	v := r.Verification
	fmt.Fprintf(&b, "target: %d users, %d books, %d claimed pages\n", v.Users, v.Books, v.ClaimedPages)
	if len(v.TopClaimants) > 0 {
		claimants := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("#", "user", "pages")
		for i, c := range v.TopClaimants {
			claimants.Row(strconv.Itoa(i+1), c.Name, strconv.Itoa(c.Count))
		}
		b.WriteString(titleStyle.Render("Top claimants"))
		b.WriteString("\n")
		b.WriteString(claimants.String())
		b.WriteString("\n")
	}

	warnings := append(append([]string{}, r.Warnings...), v.Warnings()...)
	if len(warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render(fmt.Sprintf("Warnings (%d)", len(warnings))))
		b.WriteString("\n")
		for _, msg := range warnings {
			style := warningStyle
			if strings.HasPrefix(msg, "CRITICAL") {
				style = errorStyle
			}
			b.WriteString(style.Render("- " + msg))
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// String renders the report without styling errors.
func (r Report) String() string {
	var b strings.Builder
	_ = r.Render(&b)
	return b.String()
}

func orderedEntities(maps ...map[string]int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range reportEntities {
		for _, m := range maps {
			if _, ok := m[e]; ok && !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	var extra []string
	for _, m := range maps {
		for e := range m {
			if !seen[e] {
				seen[e] = true
				extra = append(extra, e)
			}
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
