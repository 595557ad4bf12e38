// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runList prints every Domain in the workspace.
//
// # Description
//
// Read-only: loads the config for the workspace path and reads the
// domain records straight from disk. Needs no API key, no server and no
// lock, so it works while another session holds a Domain.
func runList(cmd *cobra.Command, args []string) error {
	if err := config.Load(); err != nil {
		return err
	}
	workspace, err := config.Global.WorkspaceDir()
	if err != nil {
		return err
	}

	domains, err := workflow.NewDomainStore(workspace)
	if err != nil {
		return err
	}
	records, err := domains.List()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		ux.Info("No domains yet. Start one with: reqevo new <locator>")
		return nil
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, d := range records {
			fmt.Printf("%s\t%s\t%d\t%s\n", d.ID, d.State, d.CurrentSeq, d.Locator)
		}
		return nil
	}

	ux.Title(fmt.Sprintf("Domains (%d)", len(records)))
	for _, d := range records {
		ux.Info(fmt.Sprintf("%-28s %-20s run %-3d %s",
			d.ID, ux.StateLabel(string(d.State)), d.CurrentSeq, d.Locator))
		if d.FailureReason != "" {
			ux.Muted("    " + d.FailureReason)
		}
	}
	return nil
}
