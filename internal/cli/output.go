package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// tabular — данные, которые умеют выводиться таблицей.
// В режиме --json выводится само значение.
type tabular interface {
	Headers() []string
	Rows() [][]string
}

// Output выводит результаты команд: данные в w, сообщения в errW.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Print выводит данные таблицей или JSON.
func (o *Output) Print(data tabular) error {
	if o.jsonMode {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return o.table(data.Headers(), data.Rows())
}

func (o *Output) table(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Join(rule, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Note выводит сообщение для человека в stderr; в stdout остаются только данные.
func (o *Output) Note(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}
