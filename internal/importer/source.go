package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Recognized source columns.
const (
	ColumnInvoiceNumber = "invoice_number"
	ColumnClientEmail   = "client_email"
	ColumnAmount        = "amount"
	ColumnStatus        = "status"
	ColumnIssueDate     = "issue_date"
	ColumnDueDate       = "due_date"
	ColumnNotes         = "notes"
)

// DefaultColumns is the field order assumed when the file has no header line.
var DefaultColumns = []string{
	ColumnInvoiceNumber,
	ColumnClientEmail,
	ColumnAmount,
	ColumnStatus,
	ColumnIssueDate,
	ColumnDueDate,
	ColumnNotes,
}

// minHeaderMatches is how many recognized column names the first line needs
// before it is treated as a header.
const minHeaderMatches = 2

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// RawRecord maps column name to the untouched cell value of one line.
type RawRecord map[string]string

// SourceRow is one data line of the source file. Number is 1-based and
// excludes the header line. ParseErr is set when the line itself could not
// be decoded; the row still consumes its number.
type SourceRow struct {
	Number   int
	Fields   RawRecord
	ParseErr error
}

// RowReader streams data rows out of a comma-separated source. Each physical
// line is decoded on its own, so a broken quote only spoils its own row.
type RowReader struct {
	src       *bufio.Reader
	columns   []string
	hasHeader bool
	pending   *SourceRow
	number    int
	line      int
}

// NewRowReader reads the first non-blank line to decide between header and
// fallback column order. An empty source yields a reader with no rows.
func NewRowReader(src io.Reader) (*RowReader, error) {
	if src == nil {
		return nil, fmt.Errorf("source reader is required")
	}

	br := bufio.NewReader(src)
	if prefix, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = br.Discard(len(byteOrderMark))
	}

	r := &RowReader{src: br, columns: DefaultColumns}

	first, parseErr, err := r.readRecord()
	if errors.Is(err, io.EOF) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read first line: %w", err)
	}

	if parseErr == nil {
		if columns, ok := detectHeader(first); ok {
			r.columns = columns
			r.hasHeader = true
			return r, nil
		}
	}

	r.pending = &SourceRow{Fields: r.mapRecord(first)}
	if parseErr != nil {
		r.pending.ParseErr = parseErr
	}
	return r, nil
}

// Columns returns the field order used to map cells to names.
func (r *RowReader) Columns() []string {
	return append([]string(nil), r.columns...)
}

func (r *RowReader) HasHeader() bool { return r.hasHeader }

// Rows returns how many data rows have been produced so far.
func (r *RowReader) Rows() int { return r.number }

// Next returns the next data row or io.EOF once the stream is exhausted.
// Any other non-nil error means the underlying stream broke.
func (r *RowReader) Next() (SourceRow, error) {
	if r.pending != nil {
		row := *r.pending
		r.pending = nil
		r.number++
		row.Number = r.number
		return row, nil
	}

	record, parseErr, err := r.readRecord()
	if err != nil {
		return SourceRow{}, err
	}

	r.number++
	row := SourceRow{Number: r.number, Fields: r.mapRecord(record)}
	if parseErr != nil {
		row.ParseErr = parseErr
	}
	return row, nil
}

// readRecord returns the cells of the next non-blank line. A line that is not
// valid CSV comes back with a *csv.ParseError positioned on the physical line.
func (r *RowReader) readRecord() ([]string, *csv.ParseError, error) {
	for {
		line, err := r.src.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("failed to read source line: %w", err)
		}
		if line == "" && err != nil {
			return nil, nil, io.EOF
		}
		r.line++

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		record, parseErr := parseLine(line, r.line)
		return record, parseErr, nil
	}
}

func parseLine(line string, lineNumber int) ([]string, *csv.ParseError) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1

	record, err := cr.Read()
	if err == nil {
		return record, nil
	}

	var parseErr *csv.ParseError
	if !errors.As(err, &parseErr) {
		parseErr = &csv.ParseError{Err: err}
	}
	parseErr.StartLine = lineNumber
	parseErr.Line = lineNumber
	return record, parseErr
}

func (r *RowReader) mapRecord(record []string) RawRecord {
	fields := make(RawRecord, len(r.columns))
	for i, column := range r.columns {
		if column == "" {
			continue
		}
		if i < len(record) {
			fields[column] = record[i]
		} else {
			fields[column] = ""
		}
	}
	return fields
}

func detectHeader(record []string) ([]string, bool) {
	columns := make([]string, len(record))
	matches := 0
	for i, cell := range record {
		name := normalizeColumn(cell)
		columns[i] = name
		if isKnownColumn(name) {
			matches++
		}
	}
	return columns, matches >= minHeaderMatches
}

func normalizeColumn(cell string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\uFEFF")))
}

func isKnownColumn(name string) bool {
	for _, column := range DefaultColumns {
		if column == name {
			return true
		}
	}
	return false
}
