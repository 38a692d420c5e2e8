package raft

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	hraft "github.com/hashicorp/raft"
)

// Operaciones del log replicado.
const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Command es una mutación del estado replicado.
type Command struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// FSM es un mapa clave/valor replicado. El backend lo usa para publicar
// quién lidera cada namespace.
type FSM struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewFSM() *FSM { return &FSM{data: make(map[string]string)} }

func (f *FSM) Apply(l *hraft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return nil
	}
	var c Command
	if err := json.Unmarshal(l.Data, &c); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch c.Op {
	case OpSet:
		f.data[c.Key] = c.Value
	case OpDelete:
		delete(f.data, c.Key)
	default:
		return fmt.Errorf("raft: unknown op %q", c.Op)
	}
	return nil
}

func (f *FSM) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *FSM) Snapshot() (hraft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := make(map[string]string, len(f.data))
	for k, v := range f.data {
		cp[k] = v
	}
	return &snapshot{data: cp}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data := make(map[string]string)
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return err
	}
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

type snapshot struct{ data map[string]string }

func (s *snapshot) Persist(sink hraft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.data); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
