// Package jsonl writes per-process record files: one JSON object per line,
// in emission order, named vm-<process>.jsonl under the run's directory.
//
// The files mirror the run store so a run stays inspectable with nothing but
// a text editor, and analyzable when the store is disabled.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftlab/driftlab/internal/domain"
)

// FileName returns the record file name for one process.
func FileName(id domain.ProcessID) string {
	return fmt.Sprintf("vm-%d.jsonl", id)
}

// Sink implements ports.RecordSink over one append-only file. A sink belongs
// to a single process loop, so writes need no locking; Close flushes the
// buffer and closes the file.
type Sink struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// NewSink opens (creating directories as needed) the record file for one
// process of one run.
func NewSink(dir string, id domain.ProcessID) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(dir, FileName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &Sink{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string { return s.f.Name() }

// Append writes one record as a JSON line.
func (s *Sink) Append(rec domain.Record) error {
	return s.enc.Encode(rec)
}

// Close flushes buffered lines and closes the file.
func (s *Sink) Close() error {
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// ReadFile loads every record from one record file, in file order.
func ReadFile(path string) ([]domain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []domain.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", filepath.Base(path), len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
