// Package loader reads network flow CSV exports into flow records.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// Recognized column headers.
const (
	ColClientAddr  = "Client Addr"
	ColServerAddr  = "Server Addr"
	ColClientBytes = "Client Bytes"
	ColServerBytes = "Server Bytes"
	ColEvents      = "Events"
)

// RequiredColumns lists the headers a flow CSV must carry. Other columns are ignored.
var RequiredColumns = []string{ColClientAddr, ColServerAddr, ColClientBytes, ColServerBytes, ColEvents}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseError is a malformed CSV row. The row is skipped; parsing continues.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// HeaderError reports a header row that cannot be used: either required
// columns are absent, or the row itself is not valid CSV.
type HeaderError struct {
	Line    int
	Missing []string
	Err     error
}

func (e *HeaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: malformed header: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("missing required column(s): %s", strings.Join(e.Missing, ", "))
}

func (e *HeaderError) Unwrap() error { return e.Err }

// ParseOptions configures the behavior of ParseWithOptions.
type ParseOptions struct {
	// WarningHandler receives a *ParseError for every skipped row.
	// If nil, warnings are discarded.
	WarningHandler func(error)

	// RecordFilter optionally filters parsed records. Return true to include.
	RecordFilter func(*model.FlowRecord) bool
}

// Parse reads flow records from CSV text with a header row.
func Parse(r io.Reader) ([]model.FlowRecord, error) {
	return ParseWithOptions(r, ParseOptions{})
}

// ParseString is Parse for in-memory text.
func ParseString(text string) ([]model.FlowRecord, error) {
	return Parse(strings.NewReader(text))
}

// ParseWithOptions reads flow records, reporting malformed rows through
// opts.WarningHandler. Empty input yields no records and no error.
//
// Every physical line is one row. Quoted fields may hold commas but not line
// breaks, so an unbalanced quote costs only the line it is on.
func ParseWithOptions(r io.Reader, opts ParseOptions) ([]model.FlowRecord, error) {
	warn := opts.WarningHandler
	if warn == nil {
		warn = func(error) {}
	}

	lr := newLineReader(r)

	text, headerLine, err := lr.next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := splitRow(text)
	if err != nil {
		return nil, &HeaderError{Line: headerLine, Err: err}
	}
	cols, err := mapColumns(header)
	if err != nil {
		var he *HeaderError
		if errors.As(err, &he) {
			he.Line = headerLine
		}
		return nil, err
	}

	var records []model.FlowRecord
	for {
		text, line, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading flow records: %w", err)
		}

		row, err := splitRow(text)
		if err != nil {
			warn(&ParseError{Line: line, Err: err})
			continue
		}
		if len(row) != len(header) {
			warn(&ParseError{
				Line: line,
				Err:  fmt.Errorf("%w: got %d, want %d", csv.ErrFieldCount, len(row), len(header)),
			})
			continue
		}

		rec := model.FlowRecord{
			Line:        line,
			ClientAddr:  strings.TrimSpace(row[cols.client]),
			ServerAddr:  strings.TrimSpace(row[cols.server]),
			ClientBytes: model.ParseMeasure(row[cols.clientBytes]),
			ServerBytes: model.ParseMeasure(row[cols.serverBytes]),
			Events:      model.ParseMeasure(row[cols.events]),
		}
		if opts.RecordFilter != nil && !opts.RecordFilter(&rec) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// splitRow splits one non-blank physical line into fields.
func splitRow(text string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	fields, err := cr.Read()
	if err != nil {
		var csvErr *csv.ParseError
		if errors.As(err, &csvErr) {
			return nil, csvErr.Err
		}
		return nil, err
	}
	return fields, nil
}

// lineReader yields physical lines with their 1-based numbers. The UTF-8 BOM
// is dropped from the first line and the last line needs no terminator.
type lineReader struct {
	br   *bufio.Reader
	line int
}

func newLineReader(r io.Reader) *lineReader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &lineReader{br: br}
}

func (lr *lineReader) next() (string, int, error) {
	for {
		text, err := lr.br.ReadString('\n')
		if text == "" && err != nil {
			return "", lr.line, err
		}
		if err != nil && err != io.EOF {
			return "", lr.line, err
		}
		lr.line++
		if strings.TrimSpace(text) == "" {
			continue
		}
		return text, lr.line, nil
	}
}

type columnIndex struct {
	client, server, clientBytes, serverBytes, events int
}

func mapColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	idx := columnIndex{
		client:      lookup(ColClientAddr),
		server:      lookup(ColServerAddr),
		clientBytes: lookup(ColClientBytes),
		serverBytes: lookup(ColServerBytes),
		events:      lookup(ColEvents),
	}
	if len(missing) > 0 {
		return columnIndex{}, &HeaderError{Missing: missing}
	}
	return idx, nil
}

// Load opens src and parses it. Failures to open or read the source are
// returned as *IOError; a bad header is returned as *HeaderError.
func Load(ctx context.Context, src Source, opts ParseOptions) ([]model.FlowRecord, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, &IOError{Source: src.Name(), Err: err}
	}
	defer rc.Close()

	records, err := ParseWithOptions(&ctxReader{ctx: ctx, r: rc}, opts)
	if err != nil {
		var headerErr *HeaderError
		if errors.As(err, &headerErr) {
			return nil, err
		}
		return nil, &IOError{Source: src.Name(), Err: err}
	}
	return records, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
