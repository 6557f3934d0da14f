package repository

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
	onboarded  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]Workspace),
		onboarded:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) GetWorkspace(_ context.Context, teamID string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[teamID]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return &ws, nil
}

func (s *MemoryStore) SaveWorkspace(_ context.Context, ws *Workspace) error {
	if ws == nil || ws.TeamID == "" {
		return fmt.Errorf("workspace team id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.workspaces[ws.TeamID]; ok && ws.CreatedAt.IsZero() {
		ws.CreatedAt = existing.CreatedAt
	}
	touch(ws, time.Now().UTC())
	s.workspaces[ws.TeamID] = *ws
	return nil
}

func (s *MemoryStore) DeleteWorkspace(_ context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workspaces, teamID)
	return nil
}

func (s *MemoryStore) MarkOnboarded(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.onboarded[userID]; ok {
		return false, nil
	}
	s.onboarded[userID] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
