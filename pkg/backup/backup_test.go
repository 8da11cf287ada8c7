package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type payload struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

func newTestService(t *testing.T) (*Service, string, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(storage)
	svc.now = func() time.Time { return clock }
	return svc, dir, &clock
}

func TestService_CreateAndLoad(t *testing.T) {
	svc, dir, _ := newTestService(t)

	name, err := svc.Create(context.Background(), "calm-board", payload{Room: "calm-board", Count: 2})
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}
	if name != "calm-board-20260102-030405.000.json" {
		t.Errorf("unexpected snapshot name %q", name)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}

	var got payload
	if err := svc.Load(context.Background(), name, &got); err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if got.Room != "calm-board" || got.Count != 2 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestService_ListLatestAndPrune(t *testing.T) {
	svc, dir, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Create(ctx, "r1", payload{Count: i}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		*clock = clock.Add(time.Second)
	}
	if _, err := svc.Create(ctx, "r2", payload{}); err != nil {
		t.Fatalf("create other room: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "r1-notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := svc.List(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 snapshots, got %v", names)
	}

	latest, err := svc.Latest(ctx, "r1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	var got payload
	if err := svc.Load(ctx, latest, &got); err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if got.Count != 3 {
		t.Errorf("expected newest snapshot, got count %d", got.Count)
	}

	removed, err := svc.Prune(ctx, "r1", 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	names, _ = svc.List(ctx, "r1")
	if len(names) != 2 || names[1] != latest {
		t.Errorf("unexpected snapshots after prune: %v", names)
	}
	if others, _ := svc.List(ctx, "r2"); len(others) != 1 {
		t.Errorf("prune touched another room: %v", others)
	}
}

func TestService_LatestEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	name, err := svc.Latest(context.Background(), "nothing")
	if err != nil || name != "" {
		t.Errorf("expected no snapshot, got %q, %v", name, err)
	}
}

func TestService_PruneKeepZeroKeepsAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Create(context.Background(), "r", payload{})
	removed, err := svc.Prune(context.Background(), "r", 0)
	if err != nil || removed != 0 {
		t.Errorf("expected nothing removed, got %d, %v", removed, err)
	}
}

func TestFileStorage_RejectsPathNames(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "../escape.json", "a/b.json", ".hidden"} {
		if err := storage.Save(context.Background(), name, strings.NewReader("{}")); err == nil {
			t.Errorf("expected error for name %q", name)
		}
		if _, err := storage.Load(context.Background(), name); err == nil {
			t.Errorf("expected load error for name %q", name)
		}
	}
}

func TestFileStorage_LoadMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	var got payload
	if err := svc.Load(context.Background(), "missing-20260101-000000.000.json", &got); err == nil {
		t.Error("expected error for missing snapshot")
	}
}
