// Package recorder captures call records so a session can be replayed
// against a different quota later.
package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Recorder collects call records. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []CallRecord
	writer  io.Writer
	limit   int
}

// New creates a Recorder. If w is non-nil every record is also streamed to w
// as one JSON object per line.
func New(w io.Writer) *Recorder {
	return &Recorder{writer: w}
}

// NewBounded keeps at most limit records in memory, dropping the oldest.
// Streaming to w is unaffected.
func NewBounded(w io.Writer, limit int) *Recorder {
	return &Recorder{writer: w, limit: limit}
}

func (r *Recorder) Record(rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if r.limit > 0 && len(r.records) > r.limit {
		r.records = append(r.records[:0], r.records[len(r.records)-r.limit:]...)
	}

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(rec); err != nil {
			return fmt.Errorf("streaming record: %w", err)
		}
	}
	return nil
}

// Records returns a copy of the retained records.
func (r *Recorder) Records() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallRecord(nil), r.records...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ExportJSON writes the retained records as an indented JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.records
	if records == nil {
		records = []CallRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := r.ExportJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads records written either by ExportJSON (a JSON array) or by a
// streaming Recorder (one object per line).
func LoadJSON(rd io.Reader) ([]CallRecord, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []CallRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		return records, nil
	}

	var records []CallRecord
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec CallRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("decoding record on line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	return records, nil
}

// LoadFile reads records from path.
func LoadFile(path string) ([]CallRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return LoadJSON(f)
}
