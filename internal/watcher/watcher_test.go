package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
)

func testLayout(dir string) map[models.Layer]config.LayerFiles {
	layout := make(map[models.Layer]config.LayerFiles)
	for _, l := range models.Layers() {
		layout[l] = config.LayerFiles{
			Vectors:  filepath.Join(dir, l.Slug()+".vec"),
			Metadata: filepath.Join(dir, l.Slug()+"_metadata.jsonl"),
		}
	}
	return layout
}

func startWatcher(t *testing.T, layout map[models.Layer]config.LayerFiles) (*Watcher, <-chan models.Layer) {
	t.Helper()
	changes := make(chan models.Layer, 16)
	w, err := NewWatcher(layout, func(l models.Layer) { changes <- l }, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, changes
}

func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DebouncesLayerReplace(t *testing.T) {
	dir := t.TempDir()
	layout := testLayout(dir)
	_, changes := startWatcher(t, layout)

	files := layout[models.LayerContext]
	replaceFile(t, files.Vectors, "vectors")
	replaceFile(t, files.Metadata, "{}\n")

	select {
	case l := <-changes:
		if l != models.LayerContext {
			t.Errorf("changed layer = %v, want CONTEXT_INTELLIGENCE", l)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for layer change")
	}

	select {
	case l := <-changes:
		t.Errorf("vector and metadata writes should coalesce, got a second change for %v", l)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	_, changes := startWatcher(t, testLayout(dir))

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "core.vec.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case l := <-changes:
		t.Errorf("unexpected change for %v", l)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_SeparateLayers(t *testing.T) {
	dir := t.TempDir()
	layout := testLayout(dir)
	_, changes := startWatcher(t, layout)

	replaceFile(t, layout[models.LayerCore].Metadata, "{}\n")
	replaceFile(t, layout[models.LayerStrategy].Vectors, "v")

	got := make(map[models.Layer]bool)
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case l := <-changes:
			got[l] = true
		case <-deadline:
			t.Fatalf("timeout, got %v", got)
		}
	}
	if !got[models.LayerCore] || !got[models.LayerStrategy] {
		t.Errorf("changes = %v", got)
	}
}

func TestWatcher_StartCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "layers", "new")
	w, _ := startWatcher(t, testLayout(dir))
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	layout := testLayout(dir)
	changes := make(chan models.Layer, 4)
	w, err := NewWatcher(layout, func(l models.Layer) { changes <- l }, WithDebounce(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	replaceFile(t, layout[models.LayerCore].Vectors, "v")
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case l := <-changes:
		t.Errorf("pending change fired after Stop: %v", l)
	default:
	}
}
