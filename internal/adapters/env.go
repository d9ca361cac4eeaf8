package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/kubilitics/mission-control/internal/mission"
)

// FileEnvironment is the built-in EnvironmentProvider: the environment name
// is fixed at wiring time, the revision comes from a revision file (e.g. a
// deployment marker), and the config fingerprint is the SHA-256 of the
// running config file. Any unreadable input is a hard error; missions must
// not be created against an unidentifiable world.
type FileEnvironment struct {
	Name         string
	RevisionFile string
	ConfigFile   string
}

// GetEnvironment reads the snapshot.
func (f *FileEnvironment) GetEnvironment(_ context.Context) (mission.ContextSnapshot, error) {
	rev, err := os.ReadFile(f.RevisionFile)
	if err != nil {
		return mission.ContextSnapshot{}, fmt.Errorf("reading revision file: %w", err)
	}
	snap := mission.ContextSnapshot{
		EnvironmentName: f.Name,
		Revision:        string(trimNewline(rev)),
	}
	if f.ConfigFile != "" {
		cfg, err := os.ReadFile(f.ConfigFile)
		if err != nil {
			return mission.ContextSnapshot{}, fmt.Errorf("reading config file: %w", err)
		}
		sum := sha256.Sum256(cfg)
		snap.ConfigFingerprint = hex.EncodeToString(sum[:])
	}
	return snap, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
