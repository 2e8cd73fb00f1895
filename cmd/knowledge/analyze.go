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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianKG/services/knowledge/corpus"
	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/spf13/cobra"
)

// AnalysisReport is the output of the analyze command.
type AnalysisReport struct {
	Corpus      *corpus.Report       `json:"corpus"`
	Statistics  graph.Statistics     `json:"statistics"`
	Centrality  CentralitySummary    `json:"centrality"`
	Modularity  float64              `json:"modularity"`
	Top         []graph.RankedEntity `json:"top"`
	Communities []CommunitySummary   `json:"communities"`
}

// CentralitySummary describes the PageRank run.
type CentralitySummary struct {
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Delta      float64 `json:"delta"`
}

// CommunitySummary is one community with its member names.
type CommunitySummary struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
}

func newAnalyzeCmd() *cobra.Command {
	var (
		top     int
		asJSON  bool
		damping float64
	)
	cmd := &cobra.Command{
		Use:   "analyze <corpus.json>",
		Short: "Rank entities and detect communities in a corpus",
		Long: `Loads the corpus, runs PageRank centrality and greedy modularity
community detection, and prints graph statistics with the most central
entities.

Output is styled when stdout is a terminal and JSON otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := graph.DefaultCentralityOptions()
			opts.DampingFactor = damping
			report, err := analyzeCorpus(cmd.Context(), args[0], opts, top)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON || !isTerminal(out) {
				return writeJSON(out, report)
			}
			renderAnalysis(out, report)
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "k", 10, "Number of central entities to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Force JSON output")
	cmd.Flags().Float64Var(&damping, "damping", graph.DefaultDampingFactor, "PageRank damping factor")
	return cmd
}

func newExportCmd() *cobra.Command {
	var analyze bool
	cmd := &cobra.Command{
		Use:   "export <corpus.json>",
		Short: "Print the graph export JSON for a corpus",
		Long: `Loads the corpus and prints every node and edge with graph statistics.
With --analyze, centrality scores and community ids are computed first
and included on each node.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := corpus.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if analyze {
				if _, err := engine.ComputeCentrality(cmd.Context(), nil); err != nil {
					return fmt.Errorf("centrality: %w", err)
				}
				if _, err := engine.DetectCommunities(cmd.Context()); err != nil {
					return fmt.Errorf("communities: %w", err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), engine.Export())
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", false, "Compute centrality and communities before exporting")
	return cmd
}

// analyzeCorpus loads path and runs both analyses.
func analyzeCorpus(ctx context.Context, path string, opts *graph.CentralityOptions, top int) (*AnalysisReport, error) {
	engine, report, err := corpus.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	centrality, err := engine.ComputeCentrality(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("centrality: %w", err)
	}
	communities, err := engine.DetectCommunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("communities: %w", err)
	}

	summaries := make([]CommunitySummary, communities.Count())
	for cid := range summaries {
		members := communities.Communities[cid]
		names := make([]string, 0, len(members))
		for _, id := range members {
			if ent, ok := engine.Entity(id); ok {
				names = append(names, ent.Name)
			}
		}
		summaries[cid] = CommunitySummary{ID: cid, Members: names}
	}

	return &AnalysisReport{
		Corpus:     report,
		Statistics: engine.Statistics(),
		Centrality: CentralitySummary{
			Iterations: centrality.Iterations,
			Converged:  centrality.Converged,
			Delta:      centrality.Delta,
		},
		Modularity:  communities.Modularity,
		Top:         engine.TopCentral(top),
		Communities: summaries,
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
