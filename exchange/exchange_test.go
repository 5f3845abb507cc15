package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderViewCaseInsensitive(t *testing.T) {
	hs := HeaderSet{}
	hs.Add("Content-Type", "text/html")

	v := NewHeaderView(hs)

	for _, key := range []string{"content-type", "CONTENT-TYPE", "Content-Type", "cOnTeNt-TyPe"} {
		val, found := v.Get(key)
		assert.True(t, found, key)
		assert.Equal(t, "text/html", val, key)
	}
}

func TestHeaderViewAbsent(t *testing.T) {
	v := NewHeaderView(HeaderSet{})

	val, found := v.Get("X-Foo")
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestHeaderViewFirstOccurrenceWins(t *testing.T) {
	hs := HeaderSet{}
	hs.Add("X-Trace", "first")
	hs.Add("x-trace", "second")
	hs.Add("X-TRACE", "third")

	v := NewHeaderView(hs)
	h, found := v.Lookup("x-Trace")
	require.True(t, found)
	assert.Equal(t, "X-Trace", h.Name)
	assert.Equal(t, []string{"first"}, h.Values)
	assert.Equal(t, 3, v.Len())
}

func TestHeaderViewMergesRepeatedNames(t *testing.T) {
	var hs HeaderSet
	require.NoError(t, json.Unmarshal([]byte(`[["Set-Cookie","a=1"],["Content-Type","text/html"],["Set-Cookie","b=2"],["set-cookie","c=3"]]`), &hs))
	require.Equal(t, 4, hs.Len())

	v := NewHeaderView(hs)
	val, found := v.Get("set-cookie")
	require.True(t, found)
	assert.Equal(t, []string{"a=1", "b=2"}, val)

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, "Set-Cookie", v.Headers()[0].Name)
	assert.Equal(t, "set-cookie", v.Headers()[2].Name)

	// The captured set is left alone
	assert.Equal(t, []string{"a=1"}, hs[0].Values)
}

func TestHeaderViewMultiValue(t *testing.T) {
	hs := HeaderSet{}
	hs.Add("Accept", "application/json", "application/xml")

	val, found := NewHeaderView(hs).Get("accept")
	require.True(t, found)
	assert.Equal(t, []string{"application/json", "application/xml"}, val)
}

func TestHeaderViewIsImmutable(t *testing.T) {
	hs := HeaderSet{}
	hs.Add("Host", "example.com")

	v := NewHeaderView(hs)
	hs[0].Values[0] = "changed"

	h, _ := v.Lookup("host")
	h.Values[0] = "changed again"

	val, _ := v.Get("host")
	assert.Equal(t, "example.com", val)
}

func TestHeaderSetJSONKeepsOrder(t *testing.T) {
	data := `{"Zeta":"1","Alpha":["a","b"],"Mid":"m"}`

	var hs HeaderSet
	require.NoError(t, json.Unmarshal([]byte(data), &hs))

	require.Len(t, hs, 3)
	assert.Equal(t, "Zeta", hs[0].Name)
	assert.Equal(t, "Alpha", hs[1].Name)
	assert.Equal(t, []string{"a", "b"}, hs[1].Values)
	assert.Equal(t, "Mid", hs[2].Name)

	out, err := json.Marshal(hs)
	require.NoError(t, err)
	assert.JSONEq(t, data, string(out))
	assert.True(t, strings.HasPrefix(string(out), `{"Zeta"`))
}

func TestHeaderSetJSONPairs(t *testing.T) {
	var hs HeaderSet
	require.NoError(t, json.Unmarshal([]byte(`[["Set-Cookie","a=1"],["Set-Cookie","b=2"]]`), &hs))

	require.Len(t, hs, 2)
	assert.Equal(t, []string{"a=1"}, hs[0].Values)
	assert.Equal(t, []string{"b=2"}, hs[1].Values)
}

func TestHeaderSetJSONRejectsObjects(t *testing.T) {
	var hs HeaderSet
	err := json.Unmarshal([]byte(`{"X":{"nested":true}}`), &hs)
	assert.Error(t, err)
}

func TestFromHTTP(t *testing.T) {
	hs := FromHTTP(http.Header{
		"X-B": []string{"2"},
		"X-A": []string{"1"},
	})

	require.Len(t, hs, 2)
	assert.Equal(t, "X-A", hs[0].Name)
	assert.Equal(t, "X-B", hs[1].Name)
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/token?debug=1", nil)
	r.Header.Set("X-Test", "yes")
	r.Header.Add("Accept", "text/plain")
	r.Header.Add("Accept", "text/html")

	ex := FromRequest(r, []byte("raw"))
	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, http.MethodPost, ex.Method)
	assert.Equal(t, "/token?debug=1", ex.URL)
	assert.Equal(t, "raw", ex.Body)
	assert.Zero(t, ex.Status)

	val, found := NewHeaderView(ex.Headers).Get("x-test")
	require.True(t, found)
	assert.Equal(t, "yes", val)
	assert.Equal(t, "Accept", ex.Headers[0].Name)
	assert.Equal(t, []string{"text/plain", "text/html"}, ex.Headers[0].Values)
}

func TestReadAll(t *testing.T) {
	input := `{"id":"one","status":200,"headers":{"Content-Type":"application/json"},"body":"{}"}

{"status":404,"headers":{},"body":"not found"}
`
	exchanges, err := ReadAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, exchanges, 2)

	assert.Equal(t, "one", exchanges[0].ID)
	assert.Equal(t, 200, exchanges[0].Status)
	assert.Equal(t, 1, exchanges[0].Headers.Len())

	assert.NotEmpty(t, exchanges[1].ID)
	assert.Equal(t, 404, exchanges[1].Status)
	assert.Equal(t, "not found", exchanges[1].Body)
}

func TestReadAllReportsLine(t *testing.T) {
	_, err := ReadAll(strings.NewReader("{\"status\":200}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
