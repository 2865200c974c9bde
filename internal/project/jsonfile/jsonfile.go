package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/devrun/internal/project"
)

// Store keeps projects in a single JSON array on disk. Writes go to a
// temporary file that is renamed over the original.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store backed by path. The file is created by EnsureSchema.
func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty json store path")
	}
	return &Store{path: filepath.Clean(p)}, nil
}

func (s *Store) EnsureSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	return s.writeLocked(nil)
}

func (s *Store) Close() error { return nil }

func (s *Store) List(_ context.Context) ([]project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
	return ps, nil
}

func (s *Store) Get(_ context.Context, name string) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, err := s.readLocked()
	if err != nil {
		return project.Project{}, err
	}
	for _, p := range ps {
		if p.Name == name {
			return p, nil
		}
	}
	return project.Project{}, project.ErrNotFound
}

func (s *Store) Add(_ context.Context, p project.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, cur := range ps {
		if cur.Name == p.Name {
			return project.ErrDuplicate
		}
	}
	return s.writeLocked(append(ps, p))
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, err := s.readLocked()
	if err != nil {
		return err
	}
	for i, cur := range ps {
		if cur.Name == name {
			return s.writeLocked(append(ps[:i], ps[i+1:]...))
		}
	}
	return project.ErrNotFound
}

func (s *Store) readLocked() ([]project.Project, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []project.Project{}, nil
	}
	if err != nil {
		return nil, err
	}
	ps := []project.Project{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return ps, nil
	}
	if err := json.Unmarshal(b, &ps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return ps, nil
}

func (s *Store) writeLocked(ps []project.Project) error {
	if ps == nil {
		ps = []project.Project{}
	}
	b, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".projects-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
