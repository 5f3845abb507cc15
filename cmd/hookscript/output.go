package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/executor"
)

const (
	OUTPUT_TEXT  = "text"
	OUTPUT_JSON  = "json"
	OUTPUT_TABLE = "table"
)

type resultWriter interface {
	Write(res *executor.InvocationResult, ex *exchange.Exchange) error
	Flush() error
}

func newResultWriter(format string, stdout, stderr io.Writer) (resultWriter, error) {
	switch format {
	case OUTPUT_TEXT:
		return &textWriter{stdout: stdout, stderr: stderr}, nil
	case OUTPUT_JSON:
		return &jsonWriter{enc: json.NewEncoder(stdout)}, nil
	case OUTPUT_TABLE:
		return newTableWriter(stdout), nil
	}

	return nil, fmt.Errorf("unknown output format %s, use one of text, json or table", format)
}

// textWriter prints the resulting body of every exchange, one per line. Guest
// output and failures go to stderr.
type textWriter struct {
	stdout io.Writer
	stderr io.Writer
}

func (w *textWriter) Write(res *executor.InvocationResult, ex *exchange.Exchange) error {
	for _, l := range res.Logs {
		fmt.Fprintf(w.stderr, "[%s %s] %s", ex.ID, l.Stream, l.Text)
	}
	if res.Error != nil {
		fmt.Fprintf(w.stderr, "[%s] %s\n", ex.ID, res.Error.Error())
	}

	_, err := fmt.Fprintln(w.stdout, res.Apply(ex.Body))
	return err
}

func (w *textWriter) Flush() error {
	return nil
}

type jsonWriter struct {
	enc *json.Encoder
}

func (w *jsonWriter) Write(res *executor.InvocationResult, _ *exchange.Exchange) error {
	return w.enc.Encode(res)
}

func (w *jsonWriter) Flush() error {
	return nil
}

type tableWriter struct {
	t table.Writer
}

func newTableWriter(out io.Writer) *tableWriter {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateRows = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateFooter = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 60, Transformer: func(val interface{}) string {
			return strings.ReplaceAll(fmt.Sprint(val), "\n", `\n`)
		}},
	})

	t.AppendHeader(table.Row{"Seq", "Exchange", "Outcome", "Duration", "Result"})

	return &tableWriter{t: t}
}

func (w *tableWriter) Write(res *executor.InvocationResult, ex *exchange.Exchange) error {
	result := res.Payload
	if res.Error != nil {
		result = res.Error.Error()
	}

	w.t.AppendRow(table.Row{res.Seq, ex.ID, res.Outcome, res.Duration, result})
	return nil
}

func (w *tableWriter) Flush() error {
	w.t.Render()
	return nil
}
