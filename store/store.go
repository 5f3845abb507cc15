package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/numkem/hookscript/script"
)

// Available backend options
const (
	BACKEND_ETCD_NAME = "etcd"
	BACKEND_DEV_NAME  = "dev"
)

var ErrScriptNotFound = errors.New("script not found")

// ScriptStore keeps named scripts and the libraries they require
type ScriptStore interface {
	AddScript(ctx context.Context, s *script.Script) error
	DeleteScript(ctx context.Context, name string) error
	GetScript(ctx context.Context, name string) (*script.Script, error)
	ListScripts(ctx context.Context) ([]*script.Script, error)
	// WatchScripts calls onChange for every script change until ctx is done. For
	// deletions the script is nil. A library change is reported as a change of
	// every script requiring it.
	WatchScripts(ctx context.Context, onChange func(name string, s *script.Script, deleted bool)) error
	LoadLibraries(ctx context.Context, paths []string) ([][]byte, error)
	AddLibrary(ctx context.Context, path string, content []byte) error
	RemoveLibrary(ctx context.Context, path string) error
	Close() error
}

type Options struct {
	EtcdEndpoints string
	ScriptDir     string
	LibraryDir    string
}

func StoreByName(name string, opts Options) (ScriptStore, error) {
	switch name {
	case BACKEND_ETCD_NAME:
		scriptStore, err := NewEtcdScriptStore(opts.EtcdEndpoints)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize etcd store: %w", err)
		}

		return scriptStore, nil
	case BACKEND_DEV_NAME:
		scriptStore, err := NewDevStore(opts.ScriptDir, opts.LibraryDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize dev store: %w", err)
		}

		return scriptStore, nil
	}

	return nil, fmt.Errorf("unknown backend: %s", name)
}

// requiring returns the scripts whose require headers name the library key,
// sorted by name
func requiring(scripts map[string]*script.Script, key string) []*script.Script {
	var out []*script.Script
	for _, sc := range scripts {
		if slices.Contains(sc.LibKeys, key) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}
