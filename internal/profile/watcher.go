package profile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports profile directories created under a root after startup.
// Removals are ignored; registered profiles are never dropped.
type Watcher struct {
	root  string
	w     *fsnotify.Watcher
	onNew func(Profile)
}

// NewWatcher starts watching root. onNew is called from the watcher goroutine.
func NewWatcher(root string, onNew func(Profile)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{root: root, w: fw, onNew: onNew}, nil
}

// Run delivers events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(w.root) || strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			fi, err := os.Stat(ev.Name)
			if err != nil || !fi.IsDir() {
				continue
			}
			p, err := FromDir(ev.Name)
			if err != nil {
				continue
			}
			slog.Info("new profile directory", "profile", p.ID)
			w.onNew(p)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			slog.Warn("profile watcher error", "root", w.root, "error", err)
		}
	}
}

func (w *Watcher) Close() error { return w.w.Close() }
