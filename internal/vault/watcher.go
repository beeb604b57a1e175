package vault

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/logging"
)

// Watcher nudges on_save document triggers when something other than the
// documented API writes a vault file directly on disk (an editor plugin,
// a sync tool). The API-driven trigger/* advance remains the primary path;
// this is an additive convenience for that one case.
type Watcher struct {
	store   *Store
	pattern string
	bus     *event.Bus
	onSave  func(docPath string)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWatcher builds a Watcher rooted at store's vault, watching every
// directory under it recursively. onSave is invoked whenever a write lands
// on a path matching pattern; callers typically advance that document's
// on_save entries and request a trigger pass from it.
func NewWatcher(store *Store, pattern string, bus *event.Bus, onSave func(docPath string)) (*Watcher, error) {
	if pattern == "" {
		pattern = "**/*.md"
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:   store,
		pattern: pattern,
		bus:     bus,
		onSave:  onSave,
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if err := w.addAllDirs(); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addAllDirs() error {
	return filepath.WalkDir(w.store.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil {
				logging.Warn().Err(addErr).Str("dir", path).Msg("vault: watch directory failed")
			}
		}
		return nil
	})
}

// Start begins watching in its own goroutine. Safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("vault: watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(ev.Name); err != nil {
				logging.Warn().Err(err).Str("dir", ev.Name).Msg("vault: watch new directory failed")
			}
		}
		return
	}

	rel, err := filepath.Rel(w.store.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	matched, err := doublestar.Match(w.pattern, rel)
	if err != nil || !matched {
		return
	}

	if w.bus != nil {
		w.bus.Publish(event.DocumentsTopic, event.Event{
			Topic: event.DocumentsTopic,
			Type:  event.DocumentChanged,
			Data:  map[string]string{"path": rel},
		})
	}
	if w.onSave != nil {
		w.onSave(rel)
	}
}

// Stop halts the watcher and releases its underlying fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
