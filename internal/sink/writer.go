// Package sink writes and reads the delimited datasets produced by harvest runs.
package sink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Schema is the ordered column list of a dataset
type Schema []string

// Writer appends rows to delimited files, writing the header once per file
type Writer struct {
	mu        sync.Mutex
	delimiter rune
}

// NewWriter creates a writer using delimiter between fields (',' when zero)
func NewWriter(delimiter rune) *Writer {
	if delimiter == 0 {
		delimiter = ','
	}
	return &Writer{delimiter: delimiter}
}

// Delimiter returns the field separator
func (w *Writer) Delimiter() rune {
	return w.delimiter
}

// Write appends rows to path. A new or empty file gets the schema header first; an existing
// file must already start with the same header, so repeated calls never duplicate it.
func (w *Writer) Write(rows [][]string, path string, schema Schema) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, row := range rows {
		if len(row) != len(schema) {
			return fmt.Errorf("row %d has %d fields, schema %d", i, len(row), len(schema))
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	needHeader := info.Size() == 0
	if !needHeader {
		if err := w.checkHeader(f, schema); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	cw := csv.NewWriter(bw)
	cw.Comma = w.delimiter
	if needHeader {
		if err := cw.Write(schema); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return bw.Flush()
}

func (w *Writer) checkHeader(r io.Reader, schema Schema) error {
	cr := csv.NewReader(r)
	cr.Comma = w.delimiter
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if strings.Join(header, "\x00") != strings.Join(schema, "\x00") {
		return errors.New("existing header does not match schema")
	}
	return nil
}

// readAll reads a delimited file and returns its rows keyed by header column
func readAll(path string, delimiter rune) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(bufio.NewReader(f))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
