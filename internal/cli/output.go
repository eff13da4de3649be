package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/zoobzio/miso"
)

// renderedStatement is the JSON shape of a compiled statement.
type renderedStatement struct {
	ID        string         `json:"id"`
	Operation miso.Operation `json:"operation"`
	Table     string         `json:"table"`
	SQL       string         `json:"sql"`
	Args      []any          `json:"args"`
}

// ReadDocument reads and parses a statement document. A path of "-" reads stdin.
func ReadDocument(path string, stdin io.Reader) (*miso.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, DocumentError("reading document", err)
	}

	doc, err := miso.ParseDocument(data)
	if err != nil {
		return nil, DocumentError("parsing document", err)
	}
	return doc, nil
}

// WriteStatement prints a compiled statement in the given format.
func WriteStatement(w io.Writer, stmt miso.Statement, format string) error {
	if format == FormatJSON {
		args := stmt.Args
		if args == nil {
			args = []any{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(renderedStatement{
			ID:        stmt.ID.String(),
			Operation: stmt.Operation,
			Table:     stmt.Table,
			SQL:       stmt.SQL,
			Args:      args,
		})
	}

	if stmt.Empty() {
		_, err := fmt.Fprintln(w, "-- empty statement, nothing to execute")
		return err
	}
	if _, err := fmt.Fprintln(w, stmt.SQL); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, arg := range stmt.Args {
		fmt.Fprintf(tw, "$%d\t%T\t%v\n", i+1, arg, arg)
	}
	return tw.Flush()
}

// WriteRows prints result rows in the given format. Text output lists
// columns in sorted order.
func WriteRows(w io.Writer, rows miso.Rows, format string) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(displayRows(rows))
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(0 rows)")
		return err
	}

	columns := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for i, c := range columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	for _, row := range displayRows(rows) {
		for i, c := range columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v := row[c]; v == nil {
				fmt.Fprint(tw, "NULL")
			} else {
				fmt.Fprint(tw, v)
			}
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

// displayRows turns driver byte slices into strings so text columns print readably.
func displayRows(rows miso.Rows) miso.Rows {
	out := make(miso.Rows, len(rows))
	for i, row := range rows {
		r := make(map[string]any, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
				continue
			}
			r[k] = v
		}
		out[i] = r
	}
	return out
}
