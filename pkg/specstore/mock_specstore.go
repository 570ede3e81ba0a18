package specstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
)

// MockSpecStore implements SpecStore in memory, recording call counts so
// tests can assert that failed registrations perform no second write.
type MockSpecStore struct {
	mu    sync.Mutex
	specs map[string]string

	SaveCalls   int
	DeleteCalls int

	ErrSave   error
	ErrDelete error
}

func NewMockSpecStore() *MockSpecStore {
	return &MockSpecStore{specs: make(map[string]string)}
}

func (s *MockSpecStore) Save(ctx context.Context, datasetName string, sourceType models.SourceType, specText string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	if s.ErrSave != nil {
		return "", s.ErrSave
	}
	location := fmt.Sprintf("%s/%s.sql", strings.ToLower(string(sourceType)), strings.ReplaceAll(datasetName, ".", "/"))
	s.specs[location] = specText
	return location, nil
}

func (s *MockSpecStore) Read(ctx context.Context, location string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.specs[location]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

func (s *MockSpecStore) Update(ctx context.Context, location, specText string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[location]; !ok {
		return "", ErrNotFound
	}
	s.specs[location] = specText
	return location, nil
}

func (s *MockSpecStore) Delete(ctx context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.ErrDelete != nil {
		return s.ErrDelete
	}
	delete(s.specs, location)
	return nil
}

// Contains reports whether a spec exists at the location.
func (s *MockSpecStore) Contains(location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.specs[location]
	return ok
}
