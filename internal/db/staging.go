package db

import (
	"sync"

	"github.com/ldi/casegen/pkg/models"
)

// StagedCase is a manual test point or test case waiting to be committed.
// PointNames lets a staged test case refer to test points staged in the same session.
type StagedCase struct {
	Case       models.UnifiedTestCase
	PointNames []string
}

type StagedItems struct {
	Points []*StagedCase
	Cases  []*StagedCase
}

// StagingManager provides thread-safe in-memory storage for staged changes.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func (sm *StagingManager) items(sessionID string) *StagedItems {
	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = &StagedItems{}
	}
	return sm.staged[sessionID]
}

// Add files the item under points or cases by its stage.
func (sm *StagingManager) Add(sessionID string, item *StagedCase) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items := sm.items(sessionID)
	if item.Case.Stage == models.StageTestPoint {
		items.Points = append(items.Points, item)
	} else {
		items.Cases = append(items.Cases, item)
	}
}

func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{}
	}
	delete(sm.staged, sessionID)
	return items
}

func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{}
	}
	return &StagedItems{
		Points: append([]*StagedCase(nil), items.Points...),
		Cases:  append([]*StagedCase(nil), items.Cases...),
	}
}

func (sm *StagingManager) Discard(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.staged, sessionID)
}
