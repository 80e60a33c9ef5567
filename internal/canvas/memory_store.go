package canvas

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides an in-memory canvas store for testing and local usage.
type MemoryStore struct {
	mu        sync.RWMutex
	canvases  map[string]*Canvas
	byHumanID map[string]string
	actions   map[string][]*Action
	apiKeys   map[string]*APIKey
	retired   map[string]struct{}
	nextSeq   int64
}

// NewMemoryStore creates a new in-memory canvas store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		canvases:  map[string]*Canvas{},
		byHumanID: map[string]string{},
		actions:   map[string][]*Action{},
		apiKeys:   map[string]*APIKey{},
		retired:   map[string]struct{}{},
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateCanvas(_ context.Context, canvas *Canvas) error {
	if canvas == nil {
		return ValidationFailed("create canvas", "canvas is required", nil)
	}
	assignIdentifiers(canvas)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.canvases[canvas.ID]; exists {
		return DuplicateIdentifier("create canvas", nil)
	}
	if _, exists := s.byHumanID[canvas.HumanID]; exists {
		return DuplicateIdentifier("create canvas", nil)
	}
	if _, retired := s.retired[canvas.HumanID]; retired {
		return DuplicateIdentifier("create canvas", nil)
	}
	s.canvases[canvas.ID] = cloneCanvas(canvas)
	s.byHumanID[canvas.HumanID] = canvas.ID
	return nil
}

func (s *MemoryStore) GetCanvas(_ context.Context, id string) (*Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canvas, ok := s.canvases[id]
	if !ok {
		return nil, NotFound("get canvas", "canvas %q does not exist", id)
	}
	return cloneCanvas(canvas), nil
}

func (s *MemoryStore) UpdateCanvas(_ context.Context, canvas *Canvas) error {
	if canvas == nil || canvas.ID == "" {
		return ValidationFailed("update canvas", "canvas id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.canvases[canvas.ID]
	if !ok {
		return NotFound("update canvas", "canvas %q does not exist", canvas.ID)
	}
	updated := cloneCanvas(stored)
	updated.Background = canvas.Background
	updated.CanvasType = canvas.CanvasType
	updated.UpdatedAt = canvas.UpdatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}
	s.canvases[canvas.ID] = updated
	return nil
}

func (s *MemoryStore) ResolveHumanID(_ context.Context, alias string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHumanID[alias]
	return id, ok, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, canvas := range s.canvases {
		if canvas.UpdatedAt.Before(cutoff) {
			delete(s.canvases, id)
			delete(s.byHumanID, canvas.HumanID)
			s.retired[canvas.HumanID] = struct{}{}
			delete(s.actions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) AppendAction(_ context.Context, action *Action, overwrite bool) error {
	if action == nil || action.CanvasID == "" {
		return ValidationFailed("append action", "canvas id is required", nil)
	}
	stampAction(action)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.canvases[action.CanvasID]
	if !ok {
		return NotFound("append action", "canvas %q does not exist", action.CanvasID)
	}
	stored.UpdatedAt = action.Timestamp
	s.appendLocked(action, overwrite)
	return nil
}

func (s *MemoryStore) CommitAction(_ context.Context, canvas *Canvas, action *Action, overwrite bool) error {
	if canvas == nil || canvas.ID == "" || action == nil {
		return ValidationFailed("commit action", "canvas id is required", nil)
	}
	action.CanvasID = canvas.ID
	stampAction(action)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.canvases[canvas.ID]
	if !ok {
		return NotFound("commit action", "canvas %q does not exist", canvas.ID)
	}
	stored.Background = canvas.Background
	stored.CanvasType = canvas.CanvasType
	stored.UpdatedAt = action.Timestamp
	canvas.UpdatedAt = action.Timestamp
	s.appendLocked(action, overwrite)
	return nil
}

func (s *MemoryStore) appendLocked(action *Action, overwrite bool) {
	if overwrite {
		delete(s.actions, action.CanvasID)
	}
	s.nextSeq++
	action.Seq = s.nextSeq
	s.actions[action.CanvasID] = append(s.actions[action.CanvasID], cloneAction(action))
}

func (s *MemoryStore) ListActions(ctx context.Context, canvasID string) ([]*Action, error) {
	return collect(s.Actions(ctx, canvasID))
}

func (s *MemoryStore) Actions(_ context.Context, canvasID string) iter.Seq2[*Action, error] {
	return func(yield func(*Action, error) bool) {
		s.mu.RLock()
		snapshot := make([]*Action, 0, len(s.actions[canvasID]))
		for _, action := range s.actions[canvasID] {
			snapshot = append(snapshot, cloneAction(action))
		}
		s.mu.RUnlock()

		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Seq < snapshot[j].Seq })
		for _, action := range snapshot {
			if !yield(action, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) ReplaceActions(_ context.Context, canvasID string, actions []*Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.canvases[canvasID]
	if !ok {
		return NotFound("replace actions", "canvas %q does not exist", canvasID)
	}
	stored.UpdatedAt = time.Now().UTC()
	replaced := make([]*Action, 0, len(actions))
	for _, action := range actions {
		if action == nil {
			continue
		}
		action.CanvasID = canvasID
		stampAction(action)
		s.nextSeq++
		action.Seq = s.nextSeq
		replaced = append(replaced, cloneAction(action))
	}
	s.actions[canvasID] = replaced
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *APIKey) error {
	if key == nil || key.Key == "" {
		return ValidationFailed("create api key", "key is required", nil)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.Key]; exists {
		return DuplicateIdentifier("create api key", nil)
	}
	clone := *key
	s.apiKeys[key.Key] = &clone
	return nil
}

func (s *MemoryStore) LookupAPIKey(_ context.Context, key string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.apiKeys[key]
	if !ok {
		return nil, NotFound("lookup api key", "api key not found")
	}
	clone := *stored
	return &clone, nil
}

func (s *MemoryStore) ListAPIKeys(context.Context) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		clone := *key
		keys = append(keys, &clone)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) DeleteAPIKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key]; !ok {
		return NotFound("delete api key", "api key not found")
	}
	delete(s.apiKeys, key)
	return nil
}

func cloneCanvas(canvas *Canvas) *Canvas {
	if canvas == nil {
		return nil
	}
	clone := *canvas
	return &clone
}

func cloneAction(action *Action) *Action {
	if action == nil {
		return nil
	}
	clone := *action
	clone.Params = cloneParams(action.Params)
	return &clone
}
