package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Header is a single header name with its values, in the order they were captured.
type Header struct {
	Name   string
	Values []string
}

// Value returns the header value the way guests see it: a plain string when the
// header has a single value, otherwise the ordered list of values.
func (h Header) Value() any {
	switch len(h.Values) {
	case 0:
		return ""
	case 1:
		return h.Values[0]
	}

	return append([]string(nil), h.Values...)
}

// HeaderSet is the ordered collection of headers of one exchange. The name keeps
// its original case.
type HeaderSet []Header

// Add appends a header entry. Entries with the same name are kept separate so the
// original capture order is preserved.
func (hs *HeaderSet) Add(name string, values ...string) {
	*hs = append(*hs, Header{Name: name, Values: values})
}

// Len returns the number of entries
func (hs HeaderSet) Len() int {
	return len(hs)
}

// FromHTTP converts a net/http header map. Map order is lost, so names are sorted.
func FromHTTP(h http.Header) HeaderSet {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	hs := make(HeaderSet, 0, len(names))
	for _, name := range names {
		hs.Add(name, h[name]...)
	}

	return hs
}

// MarshalJSON writes the headers as an object in capture order. Single values are
// written as strings, multiple values as arrays.
func (hs HeaderSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range hs {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(h.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		value, err := json.Marshal(h.Value())
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads either an object (document order is kept) or an array of
// [name, value...] pairs.
func (hs *HeaderSet) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid headers JSON")
	}

	res := gjson.ParseBytes(data)
	out := HeaderSet{}

	switch {
	case res.Type == gjson.Null:
	case res.IsObject():
		var err error
		res.ForEach(func(k, v gjson.Result) bool {
			var values []string
			values, err = headerValues(k.String(), v)
			if err != nil {
				return false
			}
			out.Add(k.String(), values...)
			return true
		})
		if err != nil {
			return err
		}
	case res.IsArray():
		for _, pair := range res.Array() {
			items := pair.Array()
			if !pair.IsArray() || len(items) < 2 {
				return fmt.Errorf("header pair must be [name, value...]: %s", pair.Raw)
			}

			values := make([]string, 0, len(items)-1)
			for _, v := range items[1:] {
				values = append(values, v.String())
			}
			out.Add(items[0].String(), values...)
		}
	default:
		return fmt.Errorf("headers must be an object or an array of pairs")
	}

	*hs = out
	return nil
}

func headerValues(name string, v gjson.Result) ([]string, error) {
	switch {
	case v.IsArray():
		var values []string
		for _, item := range v.Array() {
			values = append(values, item.String())
		}
		return values, nil
	case v.IsObject():
		return nil, fmt.Errorf("header %s: value must be a string or an array of strings", name)
	default:
		return []string{v.String()}, nil
	}
}

// String is used by debug logging
func (hs HeaderSet) String() string {
	var sb strings.Builder
	for _, h := range hs {
		sb.WriteString(h.Name)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(h.Values, ", "))
		sb.WriteString("\n")
	}

	return sb.String()
}
