package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// fileStore keeps everything in a Memory and persists it to disk.
//
// Files:
//   - <prefix>.snapshot.json     (full state, timers, admin content; rewritten atomically)
//   - <prefix>.invocations.jsonl (append-only JSON Lines)
type fileStore struct {
	*Memory

	log          logx.Logger
	snapshotPath string

	jmu     sync.Mutex
	journal *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		Memory:       NewMemory(),
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
	}
	if err := loadSnapshot(s.snapshotPath, &s.Memory.data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.Memory.onChange = s.writeSnapshot

	jf, err := os.OpenFile(prefix+".invocations.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) AppendInvocation(_ context.Context, e InvocationEntry) error {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.journal).Encode(e)
}

func (s *fileStore) Close() error {
	_ = s.Memory.Close()
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// writeSnapshot runs with the Memory lock held.
func (s *fileStore) writeSnapshot(d *memoryData) error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		s.log.Debug("snapshot sync failed", logx.Err(err))
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func loadSnapshot(path string, out *memoryData) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var d memoryData
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return err
	}
	for k, v := range d.State {
		out.State[k] = v
	}
	for k, v := range d.Timers {
		out.Timers[k] = v
	}
	for k, v := range d.Admin {
		out.Admin[k] = v
	}
	return nil
}
