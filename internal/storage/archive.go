package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"robot-diary/server/internal/models"
)

// Archiver writes journey snapshots as indented JSON files in the data
// directory, named journey_<UTC timestamp>.json so they sort by creation time.
type Archiver struct {
	dir string
}

func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// Write persists a snapshot and returns the file path.
func (a *Archiver) Write(snap models.JourneySnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("journey_%s.json", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

// List returns the archive files present in the data directory, oldest first.
func (a *Archiver) List() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(a.dir, "journey_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return paths, nil
}
