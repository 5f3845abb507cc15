package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/numkem/hookscript/script"
)

const (
	ETCD_TIMEOUT          = 3 * time.Second
	ETCD_SCRIPT_PREFIX    = "hookscript/scripts/"
	ETCD_LIBRARIES_PREFIX = "hookscript/libraries/"
)

// EtcdScriptStore stores scripts as JSON documents in etcd, one key per script name
type EtcdScriptStore struct {
	client        *clientv3.Client
	prefix        string
	libraryPrefix string
}

func etcdEndpoints(endpoints string) []string {
	return strings.Split(endpoints, ",")
}

func EtcdClient(endpoints string) (*clientv3.Client, error) {
	log.Debugf("Attempting to connect to etcd @ %s", endpoints)

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   etcdEndpoints(endpoints),
		DialTimeout: ETCD_TIMEOUT,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	log.Debugf("Connected to etcd @ %s", endpoints)

	return client, nil
}

func NewEtcdScriptStore(endpoints string) (*EtcdScriptStore, error) {
	client, err := EtcdClient(endpoints)
	if err != nil {
		return nil, err
	}

	return &EtcdScriptStore{
		client:        client,
		prefix:        ETCD_SCRIPT_PREFIX,
		libraryPrefix: ETCD_LIBRARIES_PREFIX,
	}, nil
}

func (e *EtcdScriptStore) scriptKey(name string) string {
	return e.prefix + name
}

func (e *EtcdScriptStore) AddScript(ctx context.Context, s *script.Script) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode script %s: %w", s.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	if _, err := e.client.Put(ctx, e.scriptKey(s.Name), string(value)); err != nil {
		return fmt.Errorf("failed to add script %s: %w", s.Name, err)
	}

	log.Debugf("Script %s added", s.Name)
	return nil
}

func (e *EtcdScriptStore) DeleteScript(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	resp, err := e.client.Delete(ctx, e.scriptKey(name))
	if err != nil {
		return fmt.Errorf("failed to delete script %s: %w", name, err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}

	log.Debugf("Deleted script %s", name)
	return nil
}

func (e *EtcdScriptStore) GetScript(ctx context.Context, name string) (*script.Script, error) {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	resp, err := e.client.Get(ctx, e.scriptKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get script %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}

	return decodeScript(resp.Kvs[0].Value)
}

func (e *EtcdScriptStore) ListScripts(ctx context.Context) ([]*script.Script, error) {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	resp, err := e.client.Get(ctx, e.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}

	var scripts []*script.Script
	for _, kv := range resp.Kvs {
		s, err := decodeScript(kv.Value)
		if err != nil {
			log.WithField("key", string(kv.Key)).Warn(err)
			continue
		}
		scripts = append(scripts, s)
	}

	log.Debugf("Retrieved %d scripts", len(scripts))
	return scripts, nil
}

func (e *EtcdScriptStore) WatchScripts(ctx context.Context, onChange func(name string, s *script.Script, deleted bool)) error {
	ctx = clientv3.WithRequireLeader(ctx)
	scriptsChan := e.client.Watch(ctx, e.prefix, clientv3.WithPrefix())
	librariesChan := e.client.Watch(ctx, e.libraryPrefix, clientv3.WithPrefix())

	for {
		select {
		case watchResp, ok := <-scriptsChan:
			if !ok {
				return ctx.Err()
			}
			if err := watchResp.Err(); err != nil {
				return fmt.Errorf("failed to watch scripts: %w", err)
			}

			for _, ev := range watchResp.Events {
				e.scriptEvent(ev, onChange)
			}

		case watchResp, ok := <-librariesChan:
			if !ok {
				return ctx.Err()
			}
			if err := watchResp.Err(); err != nil {
				return fmt.Errorf("failed to watch libraries: %w", err)
			}

			for _, ev := range watchResp.Events {
				e.libraryEvent(ctx, ev, onChange)
			}
		}
	}
}

func (e *EtcdScriptStore) scriptEvent(ev *clientv3.Event, onChange func(string, *script.Script, bool)) {
	name := strings.TrimPrefix(string(ev.Kv.Key), e.prefix)
	switch ev.Type {
	case clientv3.EventTypePut:
		s, err := decodeScript(ev.Kv.Value)
		if err != nil {
			log.WithField("script", name).Warn(err)
			return
		}
		log.WithField("script", name).Debug("Script added/updated")
		onChange(name, s, false)
	case clientv3.EventTypeDelete:
		log.WithField("script", name).Debug("Script deleted")
		onChange(name, nil, true)
	}
}

// libraryEvent reports every script requiring the changed library
func (e *EtcdScriptStore) libraryEvent(ctx context.Context, ev *clientv3.Event, onChange func(string, *script.Script, bool)) {
	key := strings.TrimPrefix(string(ev.Kv.Key), e.libraryPrefix)
	fields := log.Fields{"library": key}

	scripts, err := e.ListScripts(ctx)
	if err != nil {
		log.WithFields(fields).Warnf("failed to find scripts using the library: %v", err)
		return
	}

	byName := make(map[string]*script.Script, len(scripts))
	for _, s := range scripts {
		byName[s.Name] = s
	}

	dependents := requiring(byName, key)
	log.WithFields(fields).Debugf("Library changed, %d scripts affected", len(dependents))
	for _, s := range dependents {
		onChange(s.Name, s, false)
	}
}

func (e *EtcdScriptStore) LoadLibraries(ctx context.Context, paths []string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	var libraries [][]byte
	for _, path := range paths {
		resp, err := e.client.Get(ctx, e.libraryPrefix+path)
		if err != nil {
			return nil, fmt.Errorf("failed to get library %s: %w", path, err)
		}
		if len(resp.Kvs) == 0 {
			return nil, fmt.Errorf("library %s not found", path)
		}

		libraries = append(libraries, resp.Kvs[0].Value)
	}

	return libraries, nil
}

func (e *EtcdScriptStore) AddLibrary(ctx context.Context, path string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	if _, err := e.client.Put(ctx, e.libraryPrefix+path, string(content)); err != nil {
		return fmt.Errorf("failed to add library %s: %w", path, err)
	}

	return nil
}

func (e *EtcdScriptStore) RemoveLibrary(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, ETCD_TIMEOUT)
	defer cancel()

	if _, err := e.client.Delete(ctx, e.libraryPrefix+path); err != nil {
		return fmt.Errorf("failed to remove library %s: %w", path, err)
	}

	return nil
}

func (e *EtcdScriptStore) Close() error {
	return e.client.Close()
}

func decodeScript(value []byte) (*script.Script, error) {
	s := new(script.Script)
	if err := json.Unmarshal(value, s); err != nil {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}

	return s, nil
}
