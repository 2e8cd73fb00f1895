// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Terminal palette.
var (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorWarn  = lipgloss.Color("#F4D03F")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	labelStyle = lipgloss.NewStyle().Foreground(colorSlate)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	rankStyle  = lipgloss.NewStyle().Width(4).Align(lipgloss.Right).Foreground(colorTeal)
	nameStyle  = lipgloss.NewStyle().Width(32)
	typeStyle  = lipgloss.NewStyle().Width(16).Foreground(colorSlate)
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorDeep).
	Padding(0, 1)

// maxCommunityMembers is how many names a community line shows.
const maxCommunityMembers = 6

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderAnalysis prints a styled analysis report.
func renderAnalysis(w io.Writer, r *AnalysisReport) {
	stats := r.Statistics

	lines := []string{
		titleStyle.Render("Knowledge Graph"),
		fmt.Sprintf("%s %d", labelStyle.Render("entities:     "), stats.EntityCount),
		fmt.Sprintf("%s %d", labelStyle.Render("relationships:"), stats.RelationshipCount),
		fmt.Sprintf("%s %.3f", labelStyle.Render("avg degree:   "), stats.AvgDegree),
		fmt.Sprintf("%s %.4f", labelStyle.Render("density:      "), stats.Density),
		fmt.Sprintf("%s %d (Q=%.4f)", labelStyle.Render("communities:  "), stats.CommunityCount, r.Modularity),
	}
	if r.Corpus != nil && r.Corpus.Skipped() > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("%d corpus records skipped", r.Corpus.Skipped())))
	}
	if !r.Centrality.Converged {
		lines = append(lines, warnStyle.Render(fmt.Sprintf(
			"PageRank did not converge after %d iterations (delta %.2e)",
			r.Centrality.Iterations, r.Centrality.Delta)))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))

	if len(stats.EntityTypeBreakdown) > 0 {
		types := make([]string, 0, len(stats.EntityTypeBreakdown))
		for t := range stats.EntityTypeBreakdown {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintln(w, titleStyle.Render("Entity Types"))
		for _, t := range types {
			fmt.Fprintf(w, "  %s %d\n", typeStyle.Render(t), stats.EntityTypeBreakdown[t])
		}
	}

	if len(r.Top) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Most Central"))
		for _, re := range r.Top {
			fmt.Fprintf(w, "%s  %s %s %.6f\n",
				rankStyle.Render(fmt.Sprintf("%d.", re.Rank)),
				nameStyle.Render(re.Entity.Name),
				typeStyle.Render(re.Entity.Type),
				re.Score,
			)
		}
	}

	if len(r.Communities) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Communities"))
		for _, c := range r.Communities {
			members := c.Members
			suffix := ""
			if len(members) > maxCommunityMembers {
				suffix = labelStyle.Render(fmt.Sprintf(" +%d more", len(members)-maxCommunityMembers))
				members = members[:maxCommunityMembers]
			}
			fmt.Fprintf(w, "%s  %s%s\n",
				rankStyle.Render(fmt.Sprintf("%d", c.ID)),
				strings.Join(members, ", "),
				suffix,
			)
		}
	}
}
