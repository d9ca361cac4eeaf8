package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/mission"
)

// ShellRunner is the built-in TestRunner and StressTester: each test ID maps
// to a shell command registered at wiring time. A per-test timeout of
// DefaultTestTimeout is enforced and reported as a failed result, never as an
// engine-level error.
type ShellRunner struct {
	dir      string
	commands map[string]string // test ID -> shell command
	stress   string            // stress suite command, empty disables
	logger   *zap.Logger
}

// NewShellRunner creates a runner executing in dir. commands maps test IDs to
// the shell command that runs them; stressCmd is the stress suite command.
func NewShellRunner(dir string, commands map[string]string, stressCmd string, logger *zap.Logger) *ShellRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellRunner{dir: dir, commands: commands, stress: stressCmd, logger: logger}
}

// RunTests executes each requested test. An unregistered test ID yields a
// failed result: an unrunnable required test must not look like a pass.
func (r *ShellRunner) RunTests(ctx context.Context, testIDs []string) ([]mission.TestResult, error) {
	results := make([]mission.TestResult, 0, len(testIDs))
	for _, id := range testIDs {
		cmd, ok := r.commands[id]
		if !ok {
			results = append(results, mission.TestResult{
				TestID: id,
				Passed: false,
				Error:  "no command registered for test",
			})
			continue
		}
		results = append(results, r.runOne(ctx, id, cmd))
	}
	return results, nil
}

func (r *ShellRunner) runOne(ctx context.Context, id, command string) mission.TestResult {
	runCtx, cancel := context.WithTimeout(ctx, DefaultTestTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = r.dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	elapsed := time.Since(start)

	result := mission.TestResult{TestID: id, Passed: err == nil, Duration: elapsed}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("timed out after %s", DefaultTestTimeout)
		} else {
			result.Error = fmt.Sprintf("%v: %s", err, lastLine(output.String()))
		}
		r.logger.Warn("test failed",
			zap.String("test_id", id),
			zap.Duration("duration", elapsed),
			zap.String("error", result.Error))
	}
	return result
}

// RunStressSuite executes the configured stress command. No configured
// command counts as a pass with an explanatory status.
func (r *ShellRunner) RunStressSuite(ctx context.Context) (StressResult, error) {
	if r.stress == "" {
		return StressResult{Success: true, Status: "no stress suite configured"}, nil
	}
	runCtx, cancel := context.WithTimeout(ctx, DefaultTestTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", r.stress)
	cmd.Dir = r.dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return StressResult{
			Success: false,
			Status:  "stress suite failed",
			Error:   fmt.Sprintf("%v: %s", err, lastLine(output.String())),
		}, nil
	}
	return StressResult{Success: true, Status: "stress suite passed"}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
