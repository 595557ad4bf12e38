// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/achiyae/ReqEvo/pkg/logging"
)

// githubBlobRe matches https://github.com/<owner>/<repo>/blob/<ref>/<path>.
var githubBlobRe = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`)

// shortRefLen is how many hash characters identify a version in file
// names and report headers.
const shortRefLen = 7

// GitFetcher walks a file's commit history with the git CLI.
//
// # Thread Safety
//
// GitFetcher is safe for concurrent use; all state lives in the
// subprocess invocations.
type GitFetcher struct {
	logger *logging.Logger
}

// isGitHubBlobURL reports whether locator names a file on github.com.
func isGitHubBlobURL(locator string) bool {
	return githubBlobRe.MatchString(locator)
}

// parseGitHubBlobURL splits a blob URL into its clone URL, branch, and
// in-repo file path.
func parseGitHubBlobURL(locator string) (cloneURL, branch, path string, err error) {
	m := githubBlobRe.FindStringSubmatch(locator)
	if m == nil {
		return "", "", "", fmt.Errorf("%w: %q is not a github blob URL", ErrUnsupportedLocator, locator)
	}
	owner, repo := m[1], strings.TrimSuffix(m[2], ".git")
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo), m[3], m[4], nil
}

// Fetch resolves a GitHub blob URL by cloning the branch into a temporary
// directory and walking the file's history. A warm cache under cacheDir
// skips the clone entirely.
func (g *GitFetcher) Fetch(ctx context.Context, locator string, cacheDir string) ([]Version, error) {
	if versions, ok := loadCachedVersions(cacheDir); ok {
		g.logger.Debug("using cached versions", "dir", cacheDir, "count", len(versions))
		return versions, nil
	}

	cloneURL, branch, path, err := parseGitHubBlobURL(locator)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "reqevo-clone-*")
	if err != nil {
		return nil, fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	g.logger.Info("cloning repository", "url", cloneURL, "branch", branch)
	if _, err := runGit(ctx, "", "clone", "--quiet", "--branch", branch, "--single-branch", cloneURL, tmp); err != nil {
		return nil, err
	}

	return g.history(ctx, tmp, path, cacheDir)
}

// FetchWorkTree walks the history of a file inside a local git worktree.
func (g *GitFetcher) FetchWorkTree(ctx context.Context, filePath string, cacheDir string) ([]Version, error) {
	if versions, ok := loadCachedVersions(cacheDir); ok {
		g.logger.Debug("using cached versions", "dir", cacheDir, "count", len(versions))
		return versions, nil
	}

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	// rev-parse reports the physical path; match it or Rel below breaks
	// under symlinked temp dirs.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	root, err := runGit(ctx, filepath.Dir(abs), "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	root = strings.TrimSpace(root)

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, fmt.Errorf("relativize path: %w", err)
	}

	return g.history(ctx, root, filepath.ToSlash(rel), cacheDir)
}

// InsideWorkTree reports whether filePath sits inside a git worktree.
func (g *GitFetcher) InsideWorkTree(ctx context.Context, filePath string) bool {
	out, err := runGit(ctx, filepath.Dir(filePath), "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// history lists the commits touching path, oldest first, and materializes
// the file content at each one.
func (g *GitFetcher) history(ctx context.Context, repoDir, path, cacheDir string) ([]Version, error) {
	out, err := runGit(ctx, repoDir,
		"log", "--pretty=format:%H|%an|%ad", "--date=iso", "--reverse", "--", path)
	if err != nil {
		return nil, err
	}

	var versions []Version
	ext := filepath.Ext(path)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		hash := parts[0]
		text, err := runGit(ctx, repoDir, "show", hash+":"+path)
		if err != nil {
			return nil, err
		}

		short := hash
		if len(short) > shortRefLen {
			short = short[:shortRefLen]
		}
		versions = append(versions, Version{
			Index:  len(versions) + 1,
			Ref:    short,
			Name:   fmt.Sprintf("v%04d_%s%s", len(versions)+1, short, ext),
			Author: parts[1],
			Date:   parts[2],
			Text:   text,
		})
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, path)
	}

	if err := cacheVersions(cacheDir, versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// runGit executes one git command and returns its stdout. Failures carry
// the exit code and stderr via *CommandError.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", NewCommandError("git "+strings.Join(args, " "), exitCode, stderr.String(), err)
	}
	return stdout.String(), nil
}
