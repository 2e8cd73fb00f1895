// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command knowledge serves and analyzes knowledge graphs built from
// extracted entity and relationship corpora.
//
// Usage:
//
//	knowledge serve --config knowledge.yaml
//	knowledge analyze corpus.json --top 10
//	knowledge export corpus.json --analyze
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Serve and analyze knowledge graphs",
		Long: `knowledge builds an in-memory knowledge graph from an extracted corpus
and answers retrieval queries over it: neighbors, paths, subgraphs,
PageRank centrality and community detection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newAnalyzeCmd(), newExportCmd())
	return rootCmd
}
