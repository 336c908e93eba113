package controls

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantjunkie/niftywing/internal/models"
)

// WriteStatus persists an engine snapshot for out-of-process readers. The
// write goes through a temp file and rename so a concurrent reader never
// observes a half-written snapshot.
func WriteStatus(path string, snap models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

// ReadStatus loads the last persisted snapshot.
func ReadStatus(path string) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("reading status file: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("parsing status file: %w", err)
	}
	return snap, nil
}
