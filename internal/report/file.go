package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	indent = "    "
	prefix = ""
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter writes through a temporary file so a report is never left
// half written.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// WriteJSONToFile serializes data and hands it to writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}
	b, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := writer.Write(filename, b); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON writes data with a 4-space indent, replacing filename.
func WriteJSON(data any, filename string) error {
	return WriteJSONToFile(data, filename, JSONSerializer{Prefix: prefix, Indent: indent}, FileWriter{Overwrite: true})
}

// FileSink keeps every record of a run in one JSON array. The file is
// rewritten after each Write so it is complete after a crash.
type FileSink struct {
	path       string
	serializer Serializer
	writer     Writer

	mu      sync.Mutex
	records []Record
}

func NewFileSink(path string) *FileSink {
	return &FileSink{
		path:       path,
		serializer: JSONSerializer{Prefix: prefix, Indent: indent},
		writer:     FileWriter{Overwrite: true},
	}
}

func (s *FileSink) Write(_ context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return WriteJSONToFile(s.records, s.path, s.serializer, s.writer)
}

func (s *FileSink) Close() error { return nil }

// ReadFile loads a report written by FileSink.
func ReadFile(path string) ([]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return out, nil
}
