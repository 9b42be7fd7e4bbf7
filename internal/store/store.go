// Package store implements the JSONL store (C9, spec §4.9): append-only
// per-source daily files with rotation, a per-source write buffer, and
// date-ranged reads. It is not on the hot read path — it exists for offline
// analysis, mirroring the pack's buffered-writer-per-stream convention.
// Nothing in the pipeline reads it back at startup.
package store

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
)

// Record is the minimum shape the store requires: every record must carry
// timestamp and source (§4.9); arbitrary additional fields round-trip
// through the map.
type Record map[string]any

const (
	timestampField = "timestamp"
	sourceField    = "source"
)

// Config controls rotation and buffering (§6's storage config block).
type Config struct {
	BasePath    string
	Compression bool
	MaxFileSize int64 // bytes, default 100MB
	BufferSize  int   // per-source record buffer, default 1000
}

// DefaultConfig returns the §4.9 defaults.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:    basePath,
		Compression: false,
		MaxFileSize: 100 * 1024 * 1024,
		BufferSize:  1000,
	}
}

// Store is the C9 JSONL store. One mutex per stream (per source), no global
// store mutex (§5 shared-resources model).
type Store struct {
	cfg Config

	mu      sync.Mutex // guards streams map only
	streams map[string]*stream
}

// New constructs a Store rooted at cfg.BasePath.
func New(cfg Config) *Store {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	return &Store{cfg: cfg, streams: map[string]*stream{}}
}

// stream holds per-source buffering and rotation state, guarded by its own
// mutex (§5: "one mutex per stream (per source). No global store mutex.").
type stream struct {
	mu      sync.Mutex
	source  string
	cfg     Config
	buf     []Record
	day     string // YYYY-MM-DD (UTC) of the currently open file
	seq     int    // rotation sequence number for the current day
	size    int64  // bytes written to the current file so far
	flushed int
}

func (s *Store) streamFor(source string) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[source]
	if !ok {
		st = &stream{source: source, cfg: s.cfg}
		s.streams[source] = st
	}
	return st
}

// Write appends record to source's buffer, flushing to disk when the buffer
// fills (§4.9). timestamp and source are required; missing either rejects
// the record.
func (s *Store) Write(source string, record Record) error {
	if _, ok := record[timestampField]; !ok {
		return fmt.Errorf("store: record missing required field %q", timestampField)
	}
	if _, ok := record[sourceField]; !ok {
		record[sourceField] = source
	}

	st := s.streamFor(source)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.buf = append(st.buf, record)
	if len(st.buf) >= st.cfg.BufferSize {
		return st.flushLocked()
	}
	return nil
}

// Flush forces every buffered record for source to disk, retrying on
// failure per §4.9/§7 ("Store write failure: retried with backoff, finally
// re-buffered and raised to the caller").
func (s *Store) Flush(source string) error {
	st := s.streamFor(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.flushLocked()
}

// FlushAll flushes every known stream, used on shutdown.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	var firstErr error
	for _, st := range streams {
		st.mu.Lock()
		err := st.flushLocked()
		st.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const (
	flushMaxAttempts = 3
	flushBaseDelay   = 50 * time.Millisecond
)

// flushLocked writes st.buf to the day's file under st.mu. On final failure
// the unwritten records are put back at the front of the buffer and the
// error is returned to the caller (§4.9).
func (st *stream) flushLocked() error {
	if len(st.buf) == 0 {
		return nil
	}
	pending := st.buf
	st.buf = nil

	var lastErr error
	for attempt := 1; attempt <= flushMaxAttempts; attempt++ {
		if err := st.appendLocked(pending); err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt) * flushBaseDelay)
			continue
		}
		st.flushed += len(pending)
		return nil
	}
	st.buf = append(pending, st.buf...)
	return fmt.Errorf("store: flush %s failed after %d attempts: %w", st.source, flushMaxAttempts, lastErr)
}

// appendLocked writes records to the currently open (or newly rotated)
// file, rotating when the current file exceeds cfg.MaxFileSize.
func (st *stream) appendLocked(records []Record) error {
	for _, rec := range records {
		day := dayOf(rec)
		if day != st.day {
			st.day = day
			st.seq = 0
			st.size = 0
		}
		path, err := st.resolveRotatedPath()
		if err != nil {
			return err
		}
		line, err := jsonutil.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: marshal record: %w", err)
		}
		line = append(line, '\n')
		if err := appendToFile(path, line, st.cfg.Compression); err != nil {
			return err
		}
		st.size += int64(len(line))
		if st.size >= st.cfg.MaxFileSize {
			st.seq++
			st.size = 0
		}
	}
	return nil
}

// resolveRotatedPath returns the path for st.day/st.seq, creating the
// source directory as needed.
func (st *stream) resolveRotatedPath() (string, error) {
	dir := filepath.Join(st.cfg.BasePath, st.source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return filepath.Join(dir, fileName(st.day, st.seq, st.cfg.Compression)), nil
}

func fileName(day string, seq int, compressed bool) string {
	name := day + ".jsonl"
	if seq > 0 {
		name = day + "." + strconv.Itoa(seq) + ".jsonl"
	}
	if compressed {
		name += ".gz"
	}
	return name
}

func dayOf(rec Record) string {
	ts, _ := rec[timestampField].(float64)
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
}

func appendToFile(path string, line []byte, compressed bool) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	if !compressed {
		_, err = f.Write(line)
		return err
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(line); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// Read streams records for source whose timestamp falls within
// [from, to] (Unix seconds, inclusive), in file order (one file per day,
// ascending, within a file in append order). Malformed lines are skipped
// with a warning via onWarn (nil is fine — it's just dropped silently then).
func (s *Store) Read(source string, from, to float64, onWarn func(string)) ([]Record, error) {
	dir := filepath.Join(s.cfg.BasePath, source)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read dir %s: %w", dir, err)
	}

	fromDay := time.Unix(int64(from), 0).UTC().Format("2006-01-02")
	toDay := time.Unix(int64(to), 0).UTC().Format("2006-01-02")

	type candidate struct {
		name string
		day  string
		seq  int
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		day, seq, ok := parseFileName(name)
		if !ok {
			continue
		}
		if day < fromDay || day > toDay {
			continue
		}
		candidates = append(candidates, candidate{name: name, day: day, seq: seq})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].day != candidates[j].day {
			return candidates[i].day < candidates[j].day
		}
		return candidates[i].seq < candidates[j].seq
	})

	var out []Record
	for _, c := range candidates {
		recs, err := readFile(filepath.Join(dir, c.name), onWarn)
		if err != nil {
			return out, err
		}
		for _, r := range recs {
			ts, _ := r[timestampField].(float64)
			if ts < from || ts > to {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func parseFileName(name string) (day string, seq int, ok bool) {
	base := name
	compressed := strings.HasSuffix(base, ".gz")
	if compressed {
		base = strings.TrimSuffix(base, ".gz")
	}
	if !strings.HasSuffix(base, ".jsonl") {
		return "", 0, false
	}
	base = strings.TrimSuffix(base, ".jsonl")
	parts := strings.SplitN(base, ".", 2)
	day = parts[0]
	if len(day) != 10 {
		return "", 0, false
	}
	seq = 0
	if len(parts) == 2 {
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, false
		}
		seq = n
	}
	return day, seq, true
}

func readFile(path string, onWarn func(string)) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("store: gzip reader %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}

	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := jsonutil.Unmarshal(line, &rec); err != nil {
			if onWarn != nil {
				onWarn(fmt.Sprintf("store: skipping malformed line %d in %s: %v", lineNo, path, err))
			}
			continue
		}
		if _, ok := rec[timestampField]; !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
