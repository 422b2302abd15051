package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

const maxResponseWidth = 60

func renderSnapshot(w io.Writer, snap testrun.Snapshot) {
	_, _ = fmt.Fprintf(w, "Run:    %s\n", snap.RunID)
	_, _ = fmt.Fprintf(w, "Status: %s", snap.Status)
	if snap.Reason != "" {
		_, _ = fmt.Fprintf(w, " (%s)", snap.Reason)
	}
	_, _ = fmt.Fprintln(w)

	if len(snap.Results) == 0 {
		return
	}

	providers := make([]string, 0, len(snap.Results))
	for p := range snap.Results {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Provider", "#", "Verdict", "Response"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	passed, total := 0, 0
	for _, p := range providers {
		for i, r := range snap.Results[p] {
			verdict := "FAIL"
			if r.Verdict {
				verdict = "PASS"
				passed++
			}
			total++
			table.Append([]string{p, fmt.Sprintf("%d", i+1), verdict, truncate(r.Response, maxResponseWidth)})
		}
	}
	table.SetFooter([]string{"", "", fmt.Sprintf("%d/%d", passed, total), ""})
	table.Render()
}

func renderRuns(w io.Writer, runs []*testrun.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Title", "Status", "Owner", "Created"})
	table.SetBorder(false)
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Definition.Title,
			string(r.Status),
			r.Owner,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

// truncate flattens s to one line of at most n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
