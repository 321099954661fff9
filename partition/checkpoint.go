package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is the wire format spec.md §6.3 defines: enough state to
// resume a run and verify it is being resumed against the same schema.
type Checkpoint struct {
	MasterSeed        uint64    `json:"master_seed"`
	Total             *uint64   `json:"total"` // nil means unbounded
	Workers           int       `json:"workers"`
	Done              []uint64  `json:"done"` // last completed global index per worker
	StartedAt         time.Time `json:"started_at"`
	SchemaFingerprint string    `json:"schema_fingerprint"`
	RunID             string    `json:"run_id"`
}

// NewCheckpoint creates a fresh checkpoint for a run that has not yet
// produced any output: every Done entry is set to doneSentinelNone (no
// completed index), which ResumeStart maps to a resume index of 0.
func NewCheckpoint(masterSeed uint64, total *uint64, workers int, schemaFingerprint string) *Checkpoint {
	done := make([]uint64, workers)
	for i := range done {
		done[i] = doneSentinelNone
	}
	return &Checkpoint{
		MasterSeed:        masterSeed,
		Total:             total,
		Workers:           workers,
		Done:              done,
		StartedAt:         time.Now().UTC(),
		SchemaFingerprint: schemaFingerprint,
		RunID:             uuid.NewString(),
	}
}

// doneSentinelNone marks "this worker has not completed any index yet".
// Using the maximum uint64 rather than a separate bool array keeps the
// checkpoint file's shape exactly as spec.md §6.3 describes it
// (done: u64[workers]) while still letting ResumeStart distinguish "no
// progress" from "completed index 0".
const doneSentinelNone = ^uint64(0)

// ResumeStart returns the global index worker w should resume at.
func (c *Checkpoint) ResumeStart(w int) uint64 {
	if c.Done[w] == doneSentinelNone {
		return 0
	}
	return c.Done[w] + 1
}

// MarkDone records that worker w has completed global index i.
func (c *Checkpoint) MarkDone(w int, i uint64) {
	c.Done[w] = i
}

// ErrCheckpointCorrupt is returned by Load when the file is unreadable or
// malformed (spec.md §6.4 exit code 4).
var ErrCheckpointCorrupt = fmt.Errorf("checkpoint corrupt")

// Load reads and validates a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if c.Workers <= 0 || len(c.Done) != c.Workers {
		return nil, fmt.Errorf("%w: workers=%d done_len=%d mismatch", ErrCheckpointCorrupt, c.Workers, len(c.Done))
	}
	return &c, nil
}

// VerifySchema refuses to resume a checkpoint whose recorded schema
// fingerprint doesn't match the freshly loaded SchemaView's — this is the
// "SUPPLEMENTED FEATURES" reading of why spec.md §6.3 carries the field at
// all (SPEC_FULL.md's checkpoint-fingerprint-verification supplement).
func (c *Checkpoint) VerifySchema(currentFingerprint string) error {
	if c.SchemaFingerprint != currentFingerprint {
		return fmt.Errorf("%w: schema changed since checkpoint (want %s, got %s)",
			ErrCheckpointCorrupt, c.SchemaFingerprint, currentFingerprint)
	}
	return nil
}

// Save atomically writes the checkpoint: write-to-temp then rename, per
// spec.md §6.3's "Atomic write = write-to-temp then rename", the same
// defensive-file-write idiom the teacher uses when reading generator
// config files.
func Save(path string, c *Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
