package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

type seedFile struct {
	Projects []Project `json:"projects"`
	Builds   []Build   `json:"builds"`
}

// MemStore keeps projects and builds in memory.
type MemStore struct {
	mu       sync.RWMutex
	projects map[int]Project
	builds   map[int]Build
}

func NewMemStore() *MemStore {
	return &MemStore{
		projects: make(map[int]Project),
		builds:   make(map[int]Build),
	}
}

// LoadMemStore builds a MemStore seeded from a JSON file. A missing file
// yields an empty store.
func LoadMemStore(path string) (*MemStore, error) {
	s := NewMemStore()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for _, p := range seed.Projects {
		s.PutProject(p)
	}
	for _, b := range seed.Builds {
		s.PutBuild(b)
	}
	return s, nil
}

func (s *MemStore) PutProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *MemStore) PutBuild(b Build) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[b.ID] = b
}

func (s *MemStore) GetByID(_ context.Context, id int) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemStore) GetWhere(_ context.Context, q BuildQuery) (BuildList, error) {
	s.mu.RLock()
	matched := make([]Build, 0)
	for _, b := range s.builds {
		if q.matches(b) {
			matched = append(matched, b)
		}
	}
	s.mu.RUnlock()

	if q.Order == OrderIDAsc {
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	} else {
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	}

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return BuildList{Items: matched[start:end], Count: total}, nil
}

func (q BuildQuery) matches(b Build) bool {
	if !q.AllProjects && b.ProjectID != q.ProjectID {
		return false
	}
	if q.Branch != "" && b.Branch != q.Branch {
		return false
	}
	if q.CommitID != "" && b.CommitID != q.CommitID {
		return false
	}
	if q.Status != nil && b.Status != *q.Status {
		return false
	}
	return true
}
