package gitmirror

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestMirrorLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := Snapshot{Title: "Doc", Rev: 1, Checksum: "c1", Content: "hello world"}
	commit, err := svc.MirrorRevision("doc-1", first, "Avery", "create")
	if err != nil {
		t.Fatalf("MirrorRevision() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("mirror directory missing: %v", err)
	}

	second := Snapshot{Title: "Doc", Rev: 2, Checksum: "c2", Content: "hello again"}
	if _, err := svc.MirrorRevision("doc-1", second, "Avery", "edit"); err != nil {
		t.Fatalf("MirrorRevision() error = %v", err)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	snap, err := svc.SnapshotAtRev("doc-1", 1)
	if err != nil {
		t.Fatalf("SnapshotAtRev() error = %v", err)
	}
	if snap.Content != "hello world" || snap.Rev != 1 {
		t.Fatalf("unexpected snapshot at rev 1: %+v", snap)
	}

	if err := svc.Remove("doc-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); !os.IsNotExist(err) {
		t.Fatalf("mirror directory should be gone, stat err = %v", err)
	}
}

func TestConcurrentMirrorSameDocument(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.MirrorRevision("doc-1", Snapshot{Title: "Doc", Rev: 1, Checksum: "c1", Content: "base"}, "Avery", "create"); err != nil {
		t.Fatalf("MirrorRevision() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			snap := Snapshot{
				Title:    "Doc",
				Rev:      int64(idx + 2),
				Checksum: fmt.Sprintf("c%d", idx+2),
				Content:  fmt.Sprintf("content-%02d", idx),
			}
			if _, err := svc.MirrorRevision("doc-1", snap, "Avery", fmt.Sprintf("rev %d", idx+2)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("MirrorRevision() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}
}
