package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var tableColumns = []struct {
	header string
	width  int
}{
	{"UID", 8},
	{"Current", 12},
	{"Latest", 12},
	{"Action", 16},
	{"Reason", 30},
}

// RenderTable writes the fixed-width decision table plus a totals line.
func RenderTable(w io.Writer, res *Result) {
	cells := make([]string, len(tableColumns))
	for i, col := range tableColumns {
		cells[i] = pad(col.header, col.width)
	}
	line := strings.Join(cells, " ")
	sep := strings.Repeat("-", len(line))

	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, sep)
	for _, d := range res.Decisions {
		fmt.Fprintln(w, strings.Join([]string{
			pad(strconv.Itoa(d.UID), tableColumns[0].width),
			pad(d.Current, tableColumns[1].width),
			pad(d.Latest, tableColumns[2].width),
			pad(string(d.Action), tableColumns[3].width),
			pad(d.Reason, tableColumns[4].width),
		}, " "))
	}
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "Total: %d | To update: %d | Up-to-date: %d | Errors: %d | Missing files: %d\n",
		res.Summary.Total, res.Summary.ToUpdate, res.Summary.UpToDate, res.Summary.Errors, res.Summary.MissingFiles)
}

func pad(s string, width int) string {
	if len(s) > width {
		s = s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// WriteReport writes the machine-readable run report.
func WriteReport(path string, res *Result) error {
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	return os.WriteFile(path, payload, 0o644)
}
