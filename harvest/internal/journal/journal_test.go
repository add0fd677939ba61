package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func openMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id1, err := j.Record(ctx, Run{Folder: "VIN1", VIN: "VIN1", Zones: 4, Degraded: 1, Duration: 90 * time.Second, StartedAt: base})
	if err != nil {
		t.Fatal(err)
	}
	if u, err := uuid.Parse(id1); err != nil || u.Version() != 7 {
		t.Errorf("id %q is not a UUIDv7 (%v)", id1, err)
	}
	if _, err := j.Record(ctx, Run{ClaimNumber: "C-7", Status: StatusFailed, ErrorKind: "auth", Message: "captcha", StartedAt: base.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	runs, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Status != StatusFailed || runs[0].Message != "captcha" {
		t.Errorf("newest run = %+v", runs[0])
	}
	want := Run{
		ID:         id1,
		Folder:     "VIN1",
		VIN:        "VIN1",
		Status:     StatusOK,
		Zones:      4,
		Degraded:   1,
		Duration:   90 * time.Second,
		StartedAt:  base,
		FinishedAt: base.Add(90 * time.Second),
	}
	if diff := cmp.Diff(want, runs[1]); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestForFolderAndStats(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, folder := range []string{"A", "B", "A"} {
		if _, err := j.Record(ctx, Run{Folder: folder, StartedAt: now.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := j.Record(ctx, Run{Status: StatusFailed, StartedAt: now}); err != nil {
		t.Fatal(err)
	}

	runs, err := j.ForFolder(ctx, "A", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("folder A runs = %d, want 2", len(runs))
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[Status]int{StatusOK: 3, StatusFailed: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRejectsUnknownStatus(t *testing.T) {
	j := openMemory(t)
	if _, err := j.Record(context.Background(), Run{Status: "maybe", StartedAt: time.Now()}); err == nil {
		t.Error("unknown status should violate the check constraint")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "runs.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	var mode string
	if err := j.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestIsBusy(t *testing.T) {
	if isBusy(nil) {
		t.Error("nil is not busy")
	}
	if !isBusy(errString("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("locked database should be busy")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
