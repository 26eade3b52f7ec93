package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tkingovr/agent-governor/api"
)

// JSONLStore is an append-only JSONL file audit store with date-based
// rotation. Queries are served from a bounded in-memory window that is
// replayed from disk on open.
type JSONLStore struct {
	mu          sync.Mutex
	dir         string
	currentDate string
	file        *os.File
	writer      *bufio.Writer

	mem *MemoryStore
}

// NewJSONLStore opens (or creates) a JSONL audit store in dir, keeping at
// most maxMem entries queryable.
func NewJSONLStore(dir string, maxMem int) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	s := &JSONLStore{dir: dir, mem: NewMemoryStore(maxMem)}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLStore) Write(ctx context.Context, entry *api.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(entry, time.Now)

	dateStr := entry.CreatedAt.UTC().Format("2006-01-02")
	if dateStr != s.currentDate {
		if err := s.rotate(dateStr); err != nil {
			return err
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}

	return s.mem.Write(ctx, entry)
}

func (s *JSONLStore) Query(ctx context.Context, q api.AuditQuery) ([]*api.AuditEntry, error) {
	return s.mem.Query(ctx, q)
}

func (s *JSONLStore) Stats(ctx context.Context) (*api.AuditStats, error) {
	return s.mem.Stats(ctx)
}

func (s *JSONLStore) Subscribe(ctx context.Context) (<-chan *api.AuditEntry, func()) {
	return s.mem.Subscribe(ctx)
}

// PruneBefore removes day files older than the cutoff's day and drops the
// matching entries from memory.
func (s *JSONLStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoffDay := cutoff.UTC().Format("2006-01-02")
	files, err := s.dayFiles()
	if err != nil {
		return 0, err
	}
	for _, name := range files {
		day := strings.TrimSuffix(name, ".jsonl")
		if day >= cutoffDay || day == s.currentDate {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("removing audit log file: %w", err)
		}
	}
	return s.mem.PruneBefore(ctx, cutoff)
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.Close()
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *JSONLStore) rotate(dateStr string) error {
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
	}

	path := filepath.Join(s.dir, dateStr+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening audit log file: %w", err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.currentDate = dateStr
	return nil
}

func (s *JSONLStore) dayFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading audit log directory: %w", err)
	}
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}

// replay loads existing day files oldest first. Lines that fail to decode
// are skipped.
func (s *JSONLStore) replay() error {
	names, err := s.dayFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		f, err := os.Open(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("opening audit log file: %w", err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			var e api.AuditEntry
			if json.Unmarshal(sc.Bytes(), &e) != nil {
				continue
			}
			_ = s.mem.Write(context.Background(), &e)
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return fmt.Errorf("reading audit log file: %w", err)
		}
	}
	return nil
}
