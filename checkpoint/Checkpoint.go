// Package checkpoint persists the full policy parameter set together
// with training progress, supporting periodic saves and best-effort
// resume. A resume failure is always surfaced to the caller; training
// never silently restarts from fresh parameters.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"molgen/policy"
)

// Checkpoint is one serialized training state
type Checkpoint struct {
	Policy   *policy.Policy
	Episodes int
	Cycles   int
}

// Save writes the checkpoint to path. The write goes through a
// temporary file and rename so a crash mid-save never corrupts an
// existing checkpoint.
func Save(path string, c *Checkpoint) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("save: %v", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("save: could not encode checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: %v", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load reads a checkpoint from path
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}
	defer f.Close()

	c := &Checkpoint{}
	if err := gob.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("load: could not decode checkpoint: %v", err)
	}
	return c, nil
}
