package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Exposure lists plaintext files that git may commit
type Exposure struct {
	IsRepo    bool
	Tracked   []string // Already tracked by git
	Unignored []string // Untracked but not in .gitignore
}

// Empty reports whether nothing needs attention
func (e *Exposure) Empty() bool {
	return len(e.Tracked) == 0 && len(e.Unignored) == 0
}

// Available reports whether the git binary can be found
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsGitRepo checks if dir is inside a git working tree
func IsGitRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	output, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(output)) == "true"
}

// IsTracked checks if a file is tracked by git
func IsTracked(ctx context.Context, dir, path string) bool {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--", path)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(ctx context.Context, dir, path string) bool {
	cmd := exec.CommandContext(ctx, "git", "check-ignore", "-q", "--", path)
	cmd.Dir = dir
	// git check-ignore exits 0 when the path is ignored
	return cmd.Run() == nil
}

// CheckExposure inspects files, given relative to dir
func CheckExposure(ctx context.Context, dir string, files []string) *Exposure {
	exposure := &Exposure{}
	if !Available() || !IsGitRepo(ctx, dir) {
		return exposure
	}
	exposure.IsRepo = true

	for _, file := range files {
		switch {
		case IsTracked(ctx, dir, file):
			exposure.Tracked = append(exposure.Tracked, file)
		case !IsIgnored(ctx, dir, file):
			exposure.Unignored = append(exposure.Unignored, file)
		}
	}
	return exposure
}

// CheckPath inspects a single file given by any path
func CheckPath(ctx context.Context, path string) *Exposure {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &Exposure{}
	}
	return CheckExposure(ctx, filepath.Dir(abs), []string{filepath.Base(abs)})
}

// FormatExposure formats an exposure report for display
func FormatExposure(e *Exposure) string {
	if !e.IsRepo || e.Empty() {
		return ""
	}

	var result strings.Builder
	result.WriteString("Git:\n")
	for _, file := range e.Tracked {
		fmt.Fprintf(&result, "   error: %s is tracked by git (run: git rm --cached %s)\n", file, file)
	}
	for _, file := range e.Unignored {
		fmt.Fprintf(&result, "   warning: %s is not in .gitignore\n", file)
	}
	return result.String()
}
