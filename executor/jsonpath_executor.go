package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// JSONPathEngine treats the script as a single JSONPath expression evaluated
// against the exchange body. The first match becomes the result: strings are
// returned as is, anything else as compact JSON, and no match yields "".
type JSONPathEngine struct{}

func NewJSONPathEngine() *JSONPathEngine {
	return &JSONPathEngine{}
}

func (*JSONPathEngine) Name() string {
	return EXECUTOR_ENGINE_JSONPATH
}

func (*JSONPathEngine) Libraries() bool {
	return false
}

func (*JSONPathEngine) Compile(name string, source []byte) (Program, error) {
	segments, err := parseJSONPath(string(source))
	if err != nil {
		return nil, err
	}

	return &jsonPathProgram{segments: segments}, nil
}

type segmentKind int

const (
	segmentMember segmentKind = iota
	segmentIndex
	segmentWildcard
)

// pathSegment is one step of a JSONPath: a member name, an array index or a
// wildcard over array items and object values.
type pathSegment struct {
	kind  segmentKind
	name  string
	index int
}

type jsonPathProgram struct {
	segments []pathSegment
}

func (p *jsonPathProgram) Run(ctx context.Context, env *Env) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body string
	if env.Exchange != nil {
		body = env.Exchange.Body
	}
	if !gjson.Valid(body) {
		return fmt.Errorf("failed to parse response body as json\nBody was '%s'", body)
	}

	res, found := firstMatch(gjson.Parse(body), p.segments)

	switch {
	case !found || !res.Exists():
		return env.Bridge.SetResult("")
	case res.Type == gjson.String:
		return env.Bridge.SetResult(res.String())
	case res.IsObject() || res.IsArray():
		return env.Bridge.SetResult(gjson.Get(res.Raw, "@ugly").Raw)
	}

	return env.Bridge.SetResult(res.Raw)
}

// firstMatch walks segments depth first in document order and returns the first
// value the whole path reaches.
func firstMatch(res gjson.Result, segments []pathSegment) (gjson.Result, bool) {
	if len(segments) == 0 {
		return res, res.Exists()
	}

	seg, rest := segments[0], segments[1:]
	switch seg.kind {
	case segmentMember:
		if !res.IsObject() {
			return gjson.Result{}, false
		}
		return firstMatch(res.Get(gjson.Escape(seg.name)), rest)

	case segmentIndex:
		if !res.IsArray() {
			return gjson.Result{}, false
		}
		return firstMatch(res.Get(strconv.Itoa(seg.index)), rest)
	}

	var match gjson.Result
	var found bool
	res.ForEach(func(_, value gjson.Result) bool {
		match, found = firstMatch(value, rest)
		return !found
	})

	return match, found
}

// parseJSONPath splits a JSONPath expression ($.a.b[0], $['a'], $.items[*].id,
// $.o.*.x) into segments. Filters, slices and recursive descent are rejected.
func parseJSONPath(expr string) ([]pathSegment, error) {
	p := strings.TrimSpace(expr)
	if p == "" {
		return nil, errors.New("empty JSONPath expression")
	}

	if strings.HasPrefix(p, "$") {
		p = p[1:]
	} else if p[0] != '.' && p[0] != '[' {
		p = "." + p
	}

	var segments []pathSegment
	for len(p) > 0 {
		switch p[0] {
		case '.':
			if strings.HasPrefix(p, "..") {
				return nil, fmt.Errorf("recursive descent is not supported: %s", expr)
			}
			p = p[1:]

			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			ident := p[:end]
			p = p[end:]

			switch ident {
			case "":
				return nil, fmt.Errorf("empty member name in %s", expr)
			case "*":
				segments = append(segments, pathSegment{kind: segmentWildcard})
			default:
				segments = append(segments, pathSegment{kind: segmentMember, name: ident})
			}
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in %s", expr)
			}
			inner := strings.TrimSpace(p[1:end])
			p = p[end+1:]

			if inner == "*" {
				segments = append(segments, pathSegment{kind: segmentWildcard})
				continue
			}
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segments = append(segments, pathSegment{kind: segmentMember, name: inner[1 : len(inner)-1]})
				continue
			}
			if n, err := strconv.Atoi(inner); err == nil && n >= 0 {
				segments = append(segments, pathSegment{kind: segmentIndex, index: n})
				continue
			}

			return nil, fmt.Errorf("unsupported selector [%s] in %s", inner, expr)
		default:
			return nil, fmt.Errorf("unexpected %q in %s", p[0], expr)
		}
	}

	return segments, nil
}
