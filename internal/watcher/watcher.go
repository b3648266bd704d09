package watcher

import (
	"bytes"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// maxChunk caps a single read so one huge append cannot balloon memory.
const maxChunk = 4 * 1024 * 1024

// Chunk is text newly appended to a session log file.
type Chunk struct {
	Date      string
	SessionID string
	File      string
	Data      string
}

// ChunkCallback is called for every chunk of complete lines read.
type ChunkCallback func(Chunk)

// Watcher follows every *.log file under a logs root laid out as
// {root}/{date}/{session}/{file}.log and reports what gets appended.
type Watcher struct {
	mu        sync.Mutex
	root      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
	offsets   map[string]int64 // path → bytes already reported
	callback  ChunkCallback
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, callback ChunkCallback) *Watcher {
	return &Watcher{
		root:     root,
		offsets:  make(map[string]int64),
		callback: callback,
	}
}

// Start watches the root and all existing date and session directories.
// Files that already exist are followed from their current end.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.addDirsRecursive(fsW, w.root, false); err != nil {
		fsW.Close()
		return err
	}

	cancel, done := make(chan struct{}), make(chan struct{})
	w.mu.Lock()
	w.fsWatcher = fsW
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.watchLoop(fsW, cancel, done)
	return nil
}

// watchLoop processes fsnotify events until Shutdown.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			w.handleEvent(fsW, event)

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error for %s: %v", w.root, err)
		}
	}
}

func (w *Watcher) handleEvent(fsW *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files may land in the directory before the watch is added.
			if !isHidden(filepath.Base(event.Name)) {
				w.addDirsRecursive(fsW, event.Name, true)
			}
			return
		}
		if isLogFile(event.Name) {
			w.readNew(event.Name)
		}

	case event.Has(fsnotify.Write):
		if isLogFile(event.Name) {
			w.readNew(event.Name)
		}

	case event.Has(fsnotify.Rename), event.Has(fsnotify.Remove):
		w.mu.Lock()
		delete(w.offsets, event.Name)
		w.mu.Unlock()
	}
}

// readNew reports complete lines appended to path since the last read.
func (w *Watcher) readNew(path string) {
	chunk, ok := w.readChunk(path)
	if !ok {
		return
	}
	if w.callback != nil {
		w.callback(chunk)
	}
}

func (w *Watcher) readChunk(path string) (Chunk, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return Chunk{}, false
	}
	chunk, ok := ParseLogPath(rel)
	if !ok {
		return Chunk{}, false
	}

	f, err := os.Open(path)
	if err != nil {
		return Chunk{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Chunk{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.offsets[path]
	if info.Size() < offset {
		// Replaced by a fresh file after rotation.
		offset = 0
	}
	n := info.Size() - offset
	if n <= 0 {
		return Chunk{}, false
	}
	if n > maxChunk {
		n = maxChunk
	}

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return Chunk{}, false
	}
	buf = buf[:read]

	// Only hand out complete lines; the rest is picked up next time. A line
	// longer than maxChunk is handed out in pieces so the file keeps moving.
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 && len(buf) < maxChunk {
		return Chunk{}, false
	}
	if end >= 0 {
		buf = buf[:end+1]
	}
	w.offsets[path] = offset + int64(len(buf))

	chunk.Data = string(buf)
	return chunk, true
}

// Shutdown stops watching.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	fsW, cancel, done := w.fsWatcher, w.cancel, w.done
	w.fsWatcher = nil
	w.mu.Unlock()

	if fsW == nil {
		return
	}
	close(cancel)
	fsW.Close()
	<-done
}

// ParseLogPath splits a path relative to the logs root into its date,
// session and file parts. Anything that is not a session log is rejected.
func ParseLogPath(rel string) (Chunk, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !isLogFile(parts[2]) || isHidden(parts[0]) {
		return Chunk{}, false
	}
	id := parts[1]
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	return Chunk{Date: parts[0], SessionID: id, File: parts[2]}, true
}

// addDirsRecursive adds dir and its subdirectories to an fsnotify watcher.
// With readExisting, log files already present are reported from the start;
// otherwise they are followed from their current end.
func (w *Watcher) addDirsRecursive(fsW *fsnotify.Watcher, dir string, readExisting bool) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		if !d.IsDir() {
			if !isLogFile(path) {
				return nil
			}
			if readExisting {
				w.readNew(path)
			} else if info, err := d.Info(); err == nil {
				w.mu.Lock()
				w.offsets[path] = info.Size()
				w.mu.Unlock()
			}
			return nil
		}

		if isHidden(d.Name()) && path != dir {
			return filepath.SkipDir
		}

		return fsW.Add(path)
	})
}

// archiveName matches rotated files such as main.1700000000.log.
var archiveName = regexp.MustCompile(`\.\d{9,}(\.\d+)?\.log$`)

// isLogFile reports whether path is an active log. Rotated archives are
// skipped: their content was reported while they were active.
func isLogFile(path string) bool {
	return strings.HasSuffix(path, ".log") && !archiveName.MatchString(path)
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
