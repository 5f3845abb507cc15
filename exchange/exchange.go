package exchange

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Exchange is one captured HTTP request/response pair handed over by the capture
// pipeline. It is owned by a single invocation.
type Exchange struct {
	ID      string    `json:"id"`
	Method  string    `json:"method,omitempty"`
	URL     string    `json:"url,omitempty"`
	Status  int       `json:"status"`
	Headers HeaderSet `json:"headers"`
	Body    string    `json:"body"`
}

// New creates an exchange with a generated ID
func New(status int, headers HeaderSet, body string) *Exchange {
	return &Exchange{
		ID:      uuid.NewString(),
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}

// FromRequest captures an incoming HTTP request as an exchange. There is no
// response yet, so Status is left at 0.
func FromRequest(r *http.Request, body []byte) *Exchange {
	return &Exchange{
		ID:      uuid.NewString(),
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: FromHTTP(r.Header),
		Body:    string(body),
	}
}

// Parse decodes a single JSON exchange. A missing ID gets a generated one.
func Parse(data []byte) (*Exchange, error) {
	ex := new(Exchange)
	if err := json.Unmarshal(data, ex); err != nil {
		return nil, fmt.Errorf("failed to decode exchange: %w", err)
	}

	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}

	return ex, nil
}

// ReadAll reads newline-delimited JSON exchanges. Blank lines are skipped.
func ReadAll(r io.Reader) ([]*Exchange, error) {
	var exchanges []*Exchange
	err := Scan(r, func(ex *Exchange) error {
		exchanges = append(exchanges, ex)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return exchanges, nil
}

// Scan calls fn for every newline-delimited JSON exchange read from r
func Scan(r io.Reader, fn func(*Exchange) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		ex, err := Parse([]byte(text))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		if err := fn(ex); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read exchanges: %w", err)
	}

	return nil
}
