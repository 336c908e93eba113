// Package controls exposes the trading control gate: a durable,
// externally-writable pause/emergency signal that the engine polls once per
// tick. The engine only ever reads the gate; the writer half exists for the
// operator CLI.
package controls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/quantjunkie/niftywing/internal/models"
)

// Source is the read side of the control gate. Poll is called once per engine
// tick; a change made between ticks takes effect on the next one.
type Source interface {
	Poll(ctx context.Context) (models.ControlState, error)
}

// Store is a control gate that can also be written. Resume and ClearEmergency
// are idempotent: clearing an already-clear signal succeeds with no change.
type Store interface {
	Source
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	ClearEmergency(ctx context.Context) error
}

// pauseRecord is the durable pause payload.
type pauseRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	PausedBy  string    `json:"paused_by"`
}

// FileStore implements the control gate over two files: a JSON pause record
// and a bare emergency marker. File presence is the signal; contents carry
// the metadata.
type FileStore struct {
	pausePath     string
	emergencyPath string
}

// NewFileStore creates a file-backed control store.
func NewFileStore(pausePath, emergencyPath string) *FileStore {
	return &FileStore{pausePath: pausePath, emergencyPath: emergencyPath}
}

var _ Store = (*FileStore)(nil)

// Poll reads the current control state from disk.
func (f *FileStore) Poll(_ context.Context) (models.ControlState, error) {
	var state models.ControlState

	data, err := os.ReadFile(f.pausePath)
	switch {
	case err == nil:
		state.Paused = true
		var rec pauseRecord
		// A corrupt pause file still pauses; the metadata is best effort.
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
			state.Reason = rec.Reason
			state.PausedAt = rec.Timestamp
		}
	case errors.Is(err, os.ErrNotExist):
		// not paused
	default:
		return models.ControlState{}, fmt.Errorf("reading pause signal: %w", err)
	}

	if _, err := os.Stat(f.emergencyPath); err == nil {
		state.Emergency = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return models.ControlState{}, fmt.Errorf("reading emergency signal: %w", err)
	}

	return state, nil
}

// Pause writes the pause record.
func (f *FileStore) Pause(_ context.Context, reason string) error {
	rec := pauseRecord{Timestamp: time.Now(), Reason: reason, PausedBy: "manual"}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.pausePath, data, 0o600); err != nil {
		return fmt.Errorf("writing pause signal: %w", err)
	}
	return nil
}

// Resume removes the pause record. Resuming an unpaused gate is a no-op.
func (f *FileStore) Resume(_ context.Context) error {
	err := os.Remove(f.pausePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing pause signal: %w", err)
	}
	return nil
}

// EmergencyStop creates the emergency marker.
func (f *FileStore) EmergencyStop(_ context.Context) error {
	msg := fmt.Sprintf("EMERGENCY STOP ACTIVATED\ntime: %s\nnew entries are halted; delete this file to clear\n",
		time.Now().Format(time.RFC3339))
	if err := os.WriteFile(f.emergencyPath, []byte(msg), 0o600); err != nil {
		return fmt.Errorf("writing emergency signal: %w", err)
	}
	return nil
}

// ClearEmergency removes the emergency marker. Idempotent.
func (f *FileStore) ClearEmergency(_ context.Context) error {
	err := os.Remove(f.emergencyPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing emergency signal: %w", err)
	}
	return nil
}
