package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numkem/hookscript/script"
)

func testingEtcdStore(t *testing.T) *EtcdScriptStore {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	s, err := NewEtcdScriptStore(endpoints)
	require.NoError(t, err)
	s.prefix = "hookscript/test/" + t.Name() + "/scripts/"
	s.libraryPrefix = "hookscript/test/" + t.Name() + "/libraries/"
	t.Cleanup(func() { s.Close() })

	return s
}

func TestEtcdScriptStore(t *testing.T) {
	s := testingEtcdStore(t)
	ctx := context.Background()

	sc := &script.Script{Name: "etcd-test", Engine: script.ENGINE_JS, Timeout: time.Second, Content: []byte("setResult(1)")}
	require.NoError(t, s.AddScript(ctx, sc))

	got, err := s.GetScript(ctx, "etcd-test")
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	scripts, err := s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, scripts, 1)

	require.NoError(t, s.DeleteScript(ctx, "etcd-test"))
	_, err = s.GetScript(ctx, "etcd-test")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestEtcdLibraries(t *testing.T) {
	s := testingEtcdStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddLibrary(ctx, "test/lib", []byte("-- lib")))
	libs, err := s.LoadLibraries(ctx, []string{"test/lib"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("-- lib")}, libs)

	require.NoError(t, s.RemoveLibrary(ctx, "test/lib"))
	_, err = s.LoadLibraries(ctx, []string{"test/lib"})
	assert.Error(t, err)
}

func TestEtcdWatch(t *testing.T) {
	s := testingEtcdStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes := make(chan string, 10)
	go s.WatchScripts(ctx, func(name string, _ *script.Script, deleted bool) {
		if !deleted {
			changes <- name
		}
	})
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, s.AddScript(ctx, &script.Script{Name: "watched", Content: []byte("x")}))
	select {
	case name := <-changes:
		assert.Equal(t, "watched", name)
	case <-ctx.Done():
		t.Fatal("no watch event")
	}
	s.DeleteScript(context.Background(), "watched")
}

func TestEtcdWatchLibrary(t *testing.T) {
	s := testingEtcdStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.AddScript(ctx, &script.Script{Name: "user", LibKeys: []string{"shared"}, Content: []byte("x")}))
	require.NoError(t, s.AddScript(ctx, &script.Script{Name: "other", Content: []byte("y")}))
	defer s.DeleteScript(context.Background(), "user")
	defer s.DeleteScript(context.Background(), "other")

	changes := make(chan string, 10)
	go s.WatchScripts(ctx, func(name string, _ *script.Script, _ bool) {
		changes <- name
	})
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, s.AddLibrary(ctx, "shared", []byte("-- v2")))
	defer s.RemoveLibrary(context.Background(), "shared")

	select {
	case name := <-changes:
		assert.Equal(t, "user", name)
	case <-ctx.Done():
		t.Fatal("no watch event")
	}
}
