package exchange

import "strings"

// HeaderView is a read-only, case-insensitive projection of a HeaderSet. It is built
// once per invocation and never shared between invocations.
type HeaderView struct {
	headers HeaderSet
	index   map[string]int
}

// NewHeaderView copies the given set and indexes it by lowercased name. Repeated
// entries with exactly the same name (Set-Cookie twice) are merged into the first
// one. When names only differ by case, the first one in capture order wins.
func NewHeaderView(hs HeaderSet) *HeaderView {
	v := &HeaderView{
		headers: make(HeaderSet, 0, len(hs)),
		index:   make(map[string]int, len(hs)),
	}

	exact := make(map[string]int, len(hs))
	for _, h := range hs {
		if i, found := exact[h.Name]; found {
			v.headers[i].Values = append(v.headers[i].Values, h.Values...)
			continue
		}

		i := len(v.headers)
		v.headers = append(v.headers, Header{Name: h.Name, Values: append([]string(nil), h.Values...)})
		exact[h.Name] = i

		key := canonical(h.Name)
		if _, found := v.index[key]; !found {
			v.index[key] = i
		}
	}

	return v
}

func canonical(name string) string {
	return strings.ToLower(name)
}

// Lookup returns the header matching name regardless of case. The second return
// value is false when no header matches; this is not an error.
func (v *HeaderView) Lookup(name string) (Header, bool) {
	i, found := v.index[canonical(name)]
	if !found {
		return Header{}, false
	}

	h := v.headers[i]
	return Header{Name: h.Name, Values: append([]string(nil), h.Values...)}, true
}

// Get returns the guest-facing value of the header (see Header.Value)
func (v *HeaderView) Get(name string) (any, bool) {
	h, found := v.Lookup(name)
	if !found {
		return nil, false
	}

	return h.Value(), true
}

// Headers returns a copy of every entry in capture order
func (v *HeaderView) Headers() HeaderSet {
	out := make(HeaderSet, len(v.headers))
	for i, h := range v.headers {
		out[i] = Header{Name: h.Name, Values: append([]string(nil), h.Values...)}
	}

	return out
}

// Len returns the number of entries after merging, including case duplicates
func (v *HeaderView) Len() int {
	return len(v.headers)
}
