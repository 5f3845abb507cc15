package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/numkem/hookscript/script"
)

// DevStore keeps scripts in memory. It can be seeded from a script directory and
// a library directory, and WatchScripts keeps it in sync with them.
type DevStore struct {
	mu         sync.RWMutex
	scriptDir  string
	libraryDir string
	scripts    map[string]*script.Script
	// file path -> script name, for files read from scriptDir
	paths     map[string]string
	libraries map[string][]byte
}

// NewDevStore creates the store. Both directories are optional; when libraryDir
// is empty and scriptDir has a libs folder, that folder is used.
func NewDevStore(scriptDir, libraryDir string) (*DevStore, error) {
	store := &DevStore{
		scriptDir:  scriptDir,
		libraryDir: libraryDir,
		scripts:    make(map[string]*script.Script),
		paths:      make(map[string]string),
		libraries:  make(map[string][]byte),
	}

	if scriptDir != "" {
		if err := isDirectory(scriptDir); err != nil {
			return nil, err
		}

		if libraryDir == "" {
			candidate := filepath.Join(scriptDir, script.LIBRARY_FOLDER_NAME)
			if isDirectory(candidate) == nil {
				store.libraryDir = candidate
			}
		}

		err := filepath.WalkDir(scriptDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == script.LIBRARY_FOLDER_NAME {
					return filepath.SkipDir
				}
				return nil
			}
			if !script.IsScriptFile(p) {
				return nil
			}

			s, err := script.ReadFile(p)
			if err != nil {
				return err
			}
			if _, found := store.scripts[s.Name]; found {
				return fmt.Errorf("duplicate script name %s in %s", s.Name, p)
			}

			store.scripts[s.Name] = s
			store.paths[p] = s.Name
			log.WithField("script", s.Name).Debugf("loaded script from %s", p)

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read scripts from %s: %w", scriptDir, err)
		}
	}

	if store.libraryDir != "" {
		if err := isDirectory(store.libraryDir); err != nil {
			return nil, err
		}

		libs, err := script.ReadLibraryDirectory(store.libraryDir)
		if err != nil {
			return nil, err
		}
		for key, content := range libs {
			log.Debugf("loading library %s", key)
			store.libraries[key] = content
		}
	}

	return store, nil
}

func isDirectory(p string) error {
	stat, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("failed to read path %s: %w", p, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("given path %s isn't a directory", p)
	}

	return nil
}

func (s *DevStore) AddScript(ctx context.Context, sc *script.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scripts[sc.Name] = sc
	return nil
}

func (s *DevStore) DeleteScript(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.scripts[name]; !found {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}
	delete(s.scripts, name)

	return nil
}

func (s *DevStore) GetScript(ctx context.Context, name string) (*script.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, found := s.scripts[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}

	return sc, nil
}

func (s *DevStore) ListScripts(ctx context.Context) ([]*script.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scripts := make([]*script.Script, 0, len(s.scripts))
	for _, sc := range s.scripts {
		scripts = append(scripts, sc)
	}
	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Name < scripts[j].Name
	})

	return scripts, nil
}

func (s *DevStore) LoadLibraries(ctx context.Context, paths []string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var libraries [][]byte
	for _, path := range paths {
		l, found := s.libraries[path]
		if !found {
			return nil, fmt.Errorf("library %s not found", path)
		}
		libraries = append(libraries, l)
	}

	return libraries, nil
}

func (s *DevStore) AddLibrary(ctx context.Context, path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.libraries[path] = content
	return nil
}

func (s *DevStore) RemoveLibrary(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.libraries, path)
	return nil
}

func (s *DevStore) Close() error {
	return nil
}

// WatchScripts follows the script and library directories with fsnotify until
// ctx is done. Without a script directory it only waits for ctx.
func (s *DevStore) WatchScripts(ctx context.Context, onChange func(name string, sc *script.Script, deleted bool)) error {
	if s.scriptDir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range []string{s.scriptDir, s.libraryDir} {
		if root == "" {
			continue
		}
		if err := watchTree(watcher, root); err != nil {
			return err
		}
	}

	log.Infof("Started watching directory: %s", s.scriptDir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(watcher, event, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("Watcher error: %v", err)

		case <-ctx.Done():
			log.Info("Stopping watcher")
			return nil
		}
	}
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to add %s to watcher: %w", p, err)
		}
		return nil
	})
}

func (s *DevStore) inLibraryDir(p string) bool {
	if s.libraryDir == "" {
		return false
	}

	rel, err := filepath.Rel(s.libraryDir, p)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func (s *DevStore) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, onChange func(string, *script.Script, bool)) {
	fields := log.Fields{"path": event.Name, "op": event.Op.String()}

	if event.Has(fsnotify.Create) {
		if stat, err := os.Stat(event.Name); err == nil && stat.IsDir() {
			if err := watchTree(watcher, event.Name); err != nil {
				log.WithFields(fields).Warn(err)
			}
			return
		}
	}

	if s.inLibraryDir(event.Name) {
		s.handleLibraryEvent(event, fields, onChange)
		return
	}

	if !script.IsScriptFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		sc, err := script.ReadFile(event.Name)
		if err != nil {
			log.WithFields(fields).Errorf("failed to read script file: %v", err)
			return
		}

		s.mu.Lock()
		previous, known := s.paths[event.Name]
		s.paths[event.Name] = sc.Name
		s.scripts[sc.Name] = sc
		if known && previous != sc.Name {
			delete(s.scripts, previous)
		}
		s.mu.Unlock()

		if known && previous != sc.Name {
			onChange(previous, nil, true)
		}
		log.WithFields(fields).WithField("script", sc.Name).Info("Script file modified")
		onChange(sc.Name, sc, false)

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		s.mu.Lock()
		name, known := s.paths[event.Name]
		delete(s.paths, event.Name)
		if known {
			delete(s.scripts, name)
		}
		s.mu.Unlock()

		if known {
			log.WithFields(fields).WithField("script", name).Info("Script file removed")
			onChange(name, nil, true)
		}
	}
}

// handleLibraryEvent reloads a library and reports every script requiring it as
// changed, so compiled programs built from the old source are dropped
func (s *DevStore) handleLibraryEvent(event fsnotify.Event, fields log.Fields, onChange func(string, *script.Script, bool)) {
	if filepath.Ext(event.Name) != ".lua" {
		return
	}

	rel, err := filepath.Rel(s.libraryDir, event.Name)
	if err != nil {
		return
	}
	key := script.LibraryKey(filepath.ToSlash(rel))

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		content, err := os.ReadFile(event.Name)
		if err != nil {
			log.WithFields(fields).Errorf("failed to read library file: %v", err)
			return
		}

		s.mu.Lock()
		s.libraries[key] = content
		s.mu.Unlock()
		log.WithFields(fields).WithField("library", key).Info("Library reloaded")

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		s.mu.Lock()
		delete(s.libraries, key)
		s.mu.Unlock()

	default:
		return
	}

	for _, sc := range s.dependents(key) {
		onChange(sc.Name, sc, false)
	}
}

// dependents returns the scripts requiring the library key, sorted by name
func (s *DevStore) dependents(key string) []*script.Script {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return requiring(s.scripts, key)
}
