package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// GitVCS is the built-in VersionControl adapter: a local git checkout where
// patches are applied on a working branch and merged with --no-ff so every
// landed change-set leaves a merge commit to revert to.
type GitVCS struct {
	dir    string
	logger *zap.Logger
}

// NewGitVCS creates a git adapter rooted at dir, which must be inside an
// existing git work tree.
func NewGitVCS(dir string, logger *zap.Logger) *GitVCS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitVCS{dir: dir, logger: logger}
}

// PrepareWorkspace records HEAD as the backup revision, creates the working
// branch, and applies each patch file in order.
func (g *GitVCS) PrepareWorkspace(ctx context.Context, branch string, patches []string) (WorkspaceResult, error) {
	backup, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return WorkspaceResult{}, fmt.Errorf("resolving backup revision: %w", err)
	}
	backup = strings.TrimSpace(backup)

	if _, err := g.git(ctx, "checkout", "-B", branch); err != nil {
		return WorkspaceResult{}, fmt.Errorf("creating branch %s: %w", branch, err)
	}
	for _, patch := range patches {
		if _, err := os.Stat(patch); err != nil {
			return WorkspaceResult{}, fmt.Errorf("patch %s unreadable: %w", patch, err)
		}
		if _, err := g.git(ctx, "apply", "--index", patch); err != nil {
			return WorkspaceResult{}, fmt.Errorf("applying patch %s: %w", patch, err)
		}
	}
	if len(patches) > 0 {
		if _, err := g.git(ctx, "commit", "-m", fmt.Sprintf("apply change-set on %s", branch)); err != nil {
			return WorkspaceResult{}, fmt.Errorf("committing change-set: %w", err)
		}
	}

	g.logger.Info("workspace prepared",
		zap.String("branch", branch),
		zap.String("backup_revision", backup),
		zap.Int("patches", len(patches)))
	return WorkspaceResult{Branch: branch, BackupRev: backup}, nil
}

// Merge lands the working branch onto target with a merge commit.
func (g *GitVCS) Merge(ctx context.Context, branch, target string) error {
	if _, err := g.git(ctx, "checkout", target); err != nil {
		return fmt.Errorf("checking out %s: %w", target, err)
	}
	if _, err := g.git(ctx, "merge", "--no-ff", "-m", fmt.Sprintf("merge %s", branch), branch); err != nil {
		return fmt.Errorf("merging %s into %s: %w", branch, target, err)
	}
	return nil
}

// Revert hard-resets the work tree to the backup revision.
func (g *GitVCS) Revert(ctx context.Context, backupRev string) error {
	if _, err := g.git(ctx, "reset", "--hard", backupRev); err != nil {
		return fmt.Errorf("reverting to %s: %w", backupRev, err)
	}
	g.logger.Warn("work tree reverted", zap.String("revision", backupRev))
	return nil
}

func (g *GitVCS) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
