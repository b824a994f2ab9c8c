package status_fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/regsync/internal/domain"
)

func TestDir_WriteCreatesFilePerComponent(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "status")
	d := New(tmp)

	s := domain.Snapshot{
		Component: "listener",
		PayloadID: "pl-1",
		Outcome:   "polled",
		Payloads:  2,
		Dropped:   1,
		Retrieved: 123,
	}
	if err := d.Write(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Write(context.Background(), domain.Snapshot{Component: "processor", Outcome: "finished"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range []string{"listener", "processor"} {
		if _, err := os.Stat(filepath.Join(tmp, c+".json")); err != nil {
			t.Fatalf("file not created for %s: %v", c, err)
		}
	}

	got, err := d.Read("listener")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != s {
		t.Errorf("expected %+v, got %+v", s, got)
	}
}

func TestDir_RejectsEmptyComponent(t *testing.T) {
	if err := New(t.TempDir()).Write(context.Background(), domain.Snapshot{}); err == nil {
		t.Fatal("expected error")
	}
}
