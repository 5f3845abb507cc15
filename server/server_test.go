package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numkem/hookscript"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/scheduler"
	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

type testServer struct {
	*Server
	nc     *nats.Conn
	store  *store.DevStore
	cancel context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ns, err := StartEmbeddedNats("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	devStore, err := store.NewDevStore("", "")
	require.NoError(t, err)

	exec := executor.New(executor.DefaultConfig(), devStore)
	srv := New(nc, devStore, exec, scheduler.New(exec, 4))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	require.NoError(t, nc.Flush())

	return &testServer{Server: srv, nc: nc, store: devStore, cancel: cancel}
}

func startTestServer(t *testing.T) (*nats.Conn, *store.DevStore) {
	ts := newTestServer(t)
	return ts.nc, ts.store
}

func request(t *testing.T, nc *nats.Conn, name, data string) *Reply {
	t.Helper()

	msg, err := nc.Request(hookscript.SubjectForScript(name), []byte(data), 5*time.Second)
	require.NoError(t, err)

	rep := new(Reply)
	require.NoError(t, json.Unmarshal(msg.Data, rep))

	return rep
}

func TestServeRoundTrip(t *testing.T) {
	nc, devStore := startTestServer(t)

	require.NoError(t, devStore.AddScript(context.Background(), &script.Script{
		Name:    "upper",
		Engine:  script.ENGINE_JS,
		Content: []byte(`setResult(body.toUpperCase() + " " + header("x-test"))`),
	}))

	rep := request(t, nc, "upper", `{"id": "ex-1", "status": 200, "headers": {"X-Test": "yes"}, "body": "hello"}`)
	require.Empty(t, rep.Error)
	require.NotNil(t, rep.Result)
	assert.Equal(t, "ex-1", rep.Result.ExchangeID)
	assert.Equal(t, executor.OutcomeSuccess, rep.Result.Outcome)
	assert.Equal(t, "HELLO yes", rep.Body)
}

func TestServeFailureKeepsBody(t *testing.T) {
	nc, devStore := startTestServer(t)

	require.NoError(t, devStore.AddScript(context.Background(), &script.Script{
		Name:    "broken",
		Engine:  script.ENGINE_LUA,
		Content: []byte(`error("nope")`),
	}))

	rep := request(t, nc, "broken", `{"status": 200, "body": "original"}`)
	require.NotNil(t, rep.Result)
	assert.Equal(t, executor.KindRuntime, rep.Result.Kind())
	assert.Equal(t, "original", rep.Body)
}

func TestServeErrors(t *testing.T) {
	nc, devStore := startTestServer(t)

	rep := request(t, nc, "missing", `{}`)
	assert.Contains(t, rep.Error, "script not found")

	require.NoError(t, devStore.AddScript(context.Background(), &script.Script{Name: "s", Content: []byte(`setResult(1)`)}))
	rep = request(t, nc, "s", `not json`)
	assert.Contains(t, rep.Error, "failed to decode exchange")
}

func TestHTTPProxy(t *testing.T) {
	nc, devStore := startTestServer(t)

	require.NoError(t, devStore.AddScript(context.Background(), &script.Script{
		Name:    "token",
		Engine:  script.ENGINE_JSONPATH,
		Content: []byte(`$.token`),
	}))

	proxy := httptest.NewServer(NewHTTPProxy(nc, time.Second))
	defer proxy.Close()

	resp, err := http.Post(proxy.URL+"/token", "application/json", strings.NewReader(`{"body": "{\"token\": \"abc\"}"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rep := new(Reply)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(rep))
	assert.Equal(t, "abc", rep.Body)

	resp, err = http.Get(proxy.URL + "/token")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(proxy.URL+"/a/b", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPProxyRawRequest(t *testing.T) {
	nc, devStore := startTestServer(t)

	require.NoError(t, devStore.AddScript(context.Background(), &script.Script{
		Name:    "echo",
		Engine:  script.ENGINE_LUA,
		Content: []byte(`setResult(method .. " " .. header("x-test") .. " " .. body)`),
	}))

	proxy := httptest.NewServer(NewHTTPProxy(nc, time.Second))
	defer proxy.Close()

	req, err := http.NewRequest(http.MethodPost, proxy.URL+"/echo", strings.NewReader("raw body"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Test", "yes")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rep := new(Reply)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(rep))
	require.Empty(t, rep.Error)
	assert.Equal(t, "POST yes raw body", rep.Body)
}

func TestIsJSON(t *testing.T) {
	for contentType, expected := range map[string]bool{
		"":                                true,
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"application/problem+json":        true,
		"text/plain":                      false,
		"not a media type;;":              false,
	} {
		assert.Equal(t, expected, isJSON(contentType), contentType)
	}
}

func TestStopStopsServing(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.store.AddScript(context.Background(), &script.Script{Name: "s", Content: []byte(`setResult("ok")`)}))
	assert.Equal(t, "ok", request(t, ts.nc, "s", `{}`).Body)

	ts.cancel()
	ts.Stop()
	assert.False(t, ts.sub.IsValid())

	_, err := ts.nc.Request(hookscript.SubjectForScript("s"), []byte(`{}`), 200*time.Millisecond)
	assert.Error(t, err)
}
