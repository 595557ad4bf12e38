// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// Picker choices. String values so the selection reads well in logs.
const (
	chooseNew    = "new"
	chooseReview = "review"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// runRoot is the bare `reqevo` invocation: an interactive picker on a
// terminal, the usage text everywhere else.
//
// # Description
//
// Asks whether to analyze a new document or reopen an existing Domain,
// gathers the missing argument with a form, and hands off to the same
// handlers the explicit subcommands use. Scripts never land here with a
// terminal, so non-interactive invocations get help and exit 0.
func runRoot(cmd *cobra.Command, args []string) error {
	if !ux.IsInteractive() {
		return cmd.Help()
	}

	records, err := listDomainsQuietly()
	if err != nil {
		return err
	}

	choice := chooseNew
	if len(records) > 0 {
		sel := huh.NewSelect[string]().
			Title("What would you like to do?").
			Options(
				huh.NewOption("Analyze a new requirements document", chooseNew),
				huh.NewOption("Review an existing domain", chooseReview),
			).
			Value(&choice)
		if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
	}

	switch choice {
	case chooseReview:
		id, err := pickDomain(records)
		if err != nil || id == "" {
			return err
		}
		return runReview(cmd, []string{id})
	default:
		locator, err := askLocator()
		if err != nil || locator == "" {
			return err
		}
		return runNew(cmd, []string{locator})
	}
}

// listDomainsQuietly loads the domain records without a full session;
// the picker must work before credentials are checked.
func listDomainsQuietly() ([]*workflow.Domain, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	workspace, err := config.Global.WorkspaceDir()
	if err != nil {
		return nil, err
	}
	domains, err := workflow.NewDomainStore(workspace)
	if err != nil {
		return nil, err
	}
	return domains.List()
}

// pickDomain selects one existing Domain; empty when aborted.
func pickDomain(records []*workflow.Domain) (string, error) {
	options := make([]huh.Option[string], 0, len(records))
	for _, d := range records {
		label := fmt.Sprintf("%s  (%s, run %d)", d.ID, d.State, d.CurrentSeq)
		options = append(options, huh.NewOption(label, d.ID))
	}

	var id string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Which domain?").
			Options(options...).
			Value(&id),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// askLocator asks where the document lives, plus an optional name that
// seeds the domain id the same way --name does.
func askLocator() (string, error) {
	var locator string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Where does the requirements document live?").
			Placeholder("./requirements.md, a GitHub blob URL, or gs://bucket/prefix").
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("a locator is required")
				}
				return nil
			}).
			Value(&locator),
		huh.NewInput().
			Title("Domain name (optional, Enter to derive one from the locator)").
			Value(&domainName),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(locator), nil
}
