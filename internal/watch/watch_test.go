package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/trainconf/internal/storage"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNameForPath(t *testing.T) {
	testCases := map[string]string{
		"/etc/trainconf/visformer_small_v2.yaml": "visformer_small_v2",
		"configs/base.yml":                       "base",
		"plain.v2.yaml":                          "plain.v2",
	}
	for path, want := range testCases {
		if got := NameForPath(path); got != want {
			t.Fatalf("NameForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestScanStoresValidFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "good.yaml", "model: visformer_tiny\n")
	writeConfig(t, dir, "bad.yaml", "model: visformer_tiny\nbatch_size: 0\n")
	writeConfig(t, dir, "broken.yml", "lr: [\n")
	writeConfig(t, dir, "notes.txt", "model: ignored\n")

	store := storage.NewMemoryStorage()
	w := New(dir, store, zaptest.NewLogger(t))

	ctx := context.Background()
	if err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	revs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(revs) != 1 || revs[0].Name != "good" {
		t.Fatalf("expected only good to be stored, got %+v", revs)
	}
}

func TestScanMissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), storage.NewMemoryStorage(), zaptest.NewLogger(t))
	if err := w.Scan(context.Background()); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestStrictRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "extra.yaml", "model: visformer_tiny\nmy_flag: true\n")

	store := storage.NewMemoryStorage()
	ctx := context.Background()

	if err := New(dir, store, zaptest.NewLogger(t), WithStrict(true)).Scan(ctx); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if _, err := store.Get(ctx, "extra"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected strict watcher to reject unknown key, got %v", err)
	}

	if err := New(dir, store, zaptest.NewLogger(t)).Scan(ctx); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if _, err := store.Get(ctx, "extra"); err != nil {
		t.Fatalf("expected lenient watcher to store config: %v", err)
	}
}

func TestRunFollowsDirectoryChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	writeConfig(t, dir, "initial.yaml", "model: visformer_small\n")

	store := storage.NewMemoryStorage()
	w := New(dir, store, zaptest.NewLogger(t), WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	exists := func(name string) func() bool {
		return func() bool {
			_, err := store.Get(context.Background(), name)
			return err == nil
		}
	}

	eventually(t, "initial scan", exists("initial"))

	path := writeConfig(t, dir, "added.yaml", "model: visformer_small_v2\nlr: 0.001\n")
	eventually(t, "added config", exists("added"))

	writeConfig(t, dir, "added.yaml", "model: visformer_small_v2\nlr: 0.002\n")
	eventually(t, "second revision", func() bool {
		rec, err := store.Get(context.Background(), "added")
		return err == nil && rec.Version == 2
	})

	// an invalid edit keeps the last good revision
	writeConfig(t, dir, "added.yaml", "model: visformer_small_v2\nlr: -1\n")
	time.Sleep(200 * time.Millisecond)
	rec, err := store.Get(context.Background(), "added")
	if err != nil || rec.Version != 2 {
		t.Fatalf("expected revision 2 to survive invalid edit, got %+v, %v", rec.Revision, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eventually(t, "removal", func() bool { return !exists("added")() })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not stop after cancel")
	}
}
