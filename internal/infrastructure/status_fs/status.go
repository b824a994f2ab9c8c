package status_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/davarch/regsync/internal/domain"
)

// Dir writes one liveness file per component, <dir>/<component>.json.
type Dir struct {
	dir string
}

func New(dir string) *Dir { return &Dir{dir: dir} }

func (d *Dir) Path(component string) string {
	return filepath.Join(d.dir, component+".json")
}

func (d *Dir) Write(_ context.Context, s domain.Snapshot) error {
	if d.dir == "" {
		return errors.New("status dir is empty")
	}
	if s.Component == "" {
		return errors.New("snapshot without component")
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}

	type out struct {
		Component string `json:"component"`
		Outcome   string `json:"outcome"`
		PayloadID string `json:"payload_id,omitempty"`
		EventID   string `json:"event_id,omitempty"`
		Payloads  int    `json:"payloads"`
		Dropped   int    `json:"dropped"`
		Retrieved int64  `json:"retrieved"`
		Time      string `json:"time"`
	}

	b, err := json.MarshalIndent(out{
		Component: s.Component,
		Outcome:   s.Outcome,
		PayloadID: s.PayloadID,
		EventID:   s.EventID,
		Payloads:  s.Payloads,
		Dropped:   s.Dropped,
		Retrieved: s.Retrieved,
		Time:      time.Unix(s.Retrieved, 0).UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}

	path := d.Path(s.Component)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read returns the last snapshot of component.
func (d *Dir) Read(component string) (domain.Snapshot, error) {
	b, err := os.ReadFile(d.Path(component))
	if err != nil {
		return domain.Snapshot{}, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Snapshot{}, err
	}
	return s, nil
}
