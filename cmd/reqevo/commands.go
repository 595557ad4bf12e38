// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/pkg/ux"
)

// --- Global Command Variables ---
var (
	domainName       string // --name: operator-chosen Domain slug seed
	noBrowser        bool   // --no-browser: skip opening the report in a browser
	feedbackRun      int    // --run: run sequence a headless submission targets
	feedbackAction   string // --action: approve or resubmit
	feedbackText     string // --text: correction carried into the next run
	personalityLevel string // UX personality level (full/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "reqevo",
		Short: "Analyze how a requirements document evolved and why",
		Long: `ReqEvo fetches the version history of a requirements document,
asks a model to classify what changed between the last two versions and
for which reason, and renders the classification as an HTML report you
iterate on until it is right.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
		RunE: runRoot, // Defined in picker.go
	}

	// --- Domains ---
	newCmd = &cobra.Command{
		Use:   "new [locator]",
		Short: "Analyze a requirements document from a path, GitHub blob URL or gs:// prefix",
		Args:  cobra.ExactArgs(1),
		RunE:  runNew, // Defined in cmd_new.go
	}

	reviewCmd = &cobra.Command{
		Use:   "review [domain-id]",
		Short: "Reopen a parked domain and serve its latest report again",
		Args:  cobra.ExactArgs(1),
		RunE:  runReview, // Defined in cmd_review.go
	}

	feedbackCmd = &cobra.Command{
		Use:   "feedback [domain-id]",
		Short: "Submit feedback on a run without the web session (for scripting)",
		Args:  cobra.ExactArgs(1),
		RunE:  runFeedback, // Defined in cmd_feedback.go
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the domains in the workspace",
		Args:  cobra.NoArgs,
		RunE:  runList, // Defined in cmd_list.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [path]",
		Short: "Re-analyze a local requirements file every time it is written",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Print the environment variables reqevo reads",
		Args:  cobra.NoArgs,
		RunE:  runEnv, // Defined in cmd_env.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), minimal, or machine (scripting)")

	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVar(&domainName, "name", "", "Domain name; the id is derived from it instead of the locator")
	newCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the report in a browser")

	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the report in a browser")

	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.Flags().IntVar(&feedbackRun, "run", 0, "Run sequence the feedback targets (required)")
	feedbackCmd.Flags().StringVar(&feedbackAction, "action", "", "approve or resubmit (required)")
	feedbackCmd.Flags().StringVar(&feedbackText, "text", "", "Correction text for resubmit")
	feedbackCmd.MarkFlagRequired("run")
	feedbackCmd.MarkFlagRequired("action")

	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&domainName, "name", "", "Domain name; the id is derived from it instead of the path")

	rootCmd.AddCommand(envCmd)
}
