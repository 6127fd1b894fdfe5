package cases

import (
	"context"
	"strconv"
	"sync"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/internal/filter"
)

// MemoryStore is an in-memory Store used by unit tests and local
// development. Ids are sequential integers rendered as strings. Cases are
// cloned on the way in and out so callers never alias stored state.
type MemoryStore struct {
	reg    *caseschema.Registry
	mu     sync.RWMutex
	order  []string
	byID   map[string]*caseschema.Case
	fields []caseschema.Field
	nextID int
}

func NewMemoryStore(reg *caseschema.Registry) *MemoryStore {
	return &MemoryStore{reg: reg, byID: make(map[string]*caseschema.Case), nextID: 1}
}

func (s *MemoryStore) PutCase(_ context.Context, id string, c *caseschema.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[id]; !exists {
		s.order = append(s.order, id)
	}
	stored := c.Clone()
	stored.ID = id
	s.byID[id] = stored
	return nil
}

func (s *MemoryStore) InsertCase(_ context.Context, c *caseschema.Case) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strconv.Itoa(s.nextID)
	s.nextID++
	stored := c.Clone()
	stored.ID = id
	s.order = append(s.order, id)
	s.byID[id] = stored
	return id, nil
}

func (s *MemoryStore) CaseByID(_ context.Context, id string) (*caseschema.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (s *MemoryStore) FetchCases(_ context.Context, page, limit int, f *filter.Filter) ([]*caseschema.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchingLocked(Selector{Filter: f})
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*caseschema.Case, 0, end-start)
	for _, id := range matched[start:end] {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) CountCases(_ context.Context, f *filter.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchingLocked(Selector{Filter: f}))), nil
}

func (s *MemoryStore) IterateCases(_ context.Context, sel Selector, fn func(*caseschema.Case) error) error {
	s.mu.RLock()
	matched := s.matchingLocked(sel)
	snapshot := make([]*caseschema.Case, 0, len(matched))
	for _, id := range matched {
		snapshot = append(snapshot, s.byID[id].Clone())
	}
	s.mu.RUnlock()
	for _, c := range snapshot {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) UpdateCase(_ context.Context, id string, update caseschema.DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, update)
}

func (s *MemoryStore) updateLocked(id string, update caseschema.DocumentUpdate) error {
	stored, ok := s.byID[id]
	if !ok {
		return errs.NotFoundf("no case with id %s", id)
	}
	updated, err := caseschema.UpdatedCopy(s.reg, stored, update)
	if err != nil {
		return err
	}
	s.byID[id] = updated
	return nil
}

func (s *MemoryStore) UpdateCases(_ context.Context, sel Selector, update caseschema.DocumentUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var modified int64
	for _, id := range s.matchingLocked(sel) {
		if err := s.updateLocked(id, update); err != nil {
			return modified, err
		}
		modified++
	}
	return modified, nil
}

func (s *MemoryStore) DeleteCase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errs.NotFoundf("no case with id %s", id)
	}
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) DeleteCases(_ context.Context, sel Selector) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.matchingLocked(sel)
	for _, id := range matched {
		s.deleteLocked(id)
	}
	return int64(len(matched)), nil
}

func (s *MemoryStore) deleteLocked(id string) {
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) ExcludedCaseIDs(_ context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for _, id := range s.order {
		c := s.byID[id]
		if !caseschema.ExcludedStatus(c.CaseStatus) {
			continue
		}
		if c.CaseReference != nil && c.CaseReference.SourceID == sourceID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) CaseFields(_ context.Context) ([]caseschema.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]caseschema.Field(nil), s.fields...), nil
}

func (s *MemoryStore) AddCaseField(_ context.Context, f caseschema.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields, f)
	return nil
}

func (s *MemoryStore) matchingLocked(sel Selector) []string {
	if len(sel.IDs) > 0 {
		ids := make([]string, 0, len(sel.IDs))
		for _, id := range sel.IDs {
			if _, ok := s.byID[id]; ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	if sel.Filter.Empty() {
		return append([]string(nil), s.order...)
	}
	var ids []string
	for _, id := range s.order {
		if matchesFilter(s.byID[id], sel.Filter) {
			ids = append(ids, id)
		}
	}
	return ids
}

// matchesFilter interprets the parsed filter against a case: equality on the
// properties the in-memory model carries, strict comparisons on the
// confirmation-date bounds. Properties with no in-memory representation
// match nothing.
func matchesFilter(c *caseschema.Case, f *filter.Filter) bool {
	for key, want := range f.Props {
		if got, ok := memoryFilterValue(c, key); !ok || got != want {
			return false
		}
	}
	if f.ConfirmedAfter != nil {
		if c.ConfirmationDate == nil || !c.ConfirmationDate.After(*f.ConfirmedAfter) {
			return false
		}
	}
	if f.ConfirmedBefore != nil {
		if c.ConfirmationDate == nil || !c.ConfirmationDate.Before(*f.ConfirmedBefore) {
			return false
		}
	}
	return true
}

func memoryFilterValue(c *caseschema.Case, key string) (string, bool) {
	switch key {
	case "caseid":
		return c.ID, true
	case "status":
		return c.CaseStatus, true
	case "sourceid":
		if c.CaseReference != nil {
			return c.CaseReference.SourceID, true
		}
	case "sourceurl":
		if c.CaseReference != nil {
			return c.CaseReference.SourceURL, true
		}
	case "country":
		if c.Location != nil {
			return c.Location.Country, true
		}
	case "admin1":
		if c.Location != nil {
			return c.Location.Admin1, true
		}
	case "admin2":
		if c.Location != nil {
			return c.Location.Admin2, true
		}
	case "admin3":
		if c.Location != nil {
			return c.Location.Admin3, true
		}
	case "place":
		if c.Location != nil {
			return c.Location.Query, true
		}
	}
	return "", false
}
