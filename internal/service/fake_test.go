package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-sync/internal/models"
	"catalog-sync/internal/store"

	"github.com/stretchr/testify/mock"
)

type progressCall struct {
	Current int
	Total   int
	Phase   string
}

// memStore is an in-memory stand-in for the PostgreSQL store
type memStore struct {
	mu       sync.Mutex
	entries  []*models.CatalogEntry
	statuses map[int64]*models.OperationStatus
	progress []progressCall
	sources  map[int64]*models.InfoSource
	shops    map[int64]*models.Shop
	rules    map[int64]*models.SynchronizationRule
	nextID   int64

	statusErr error
	saveErr   error
	saveCalls int
	failSave  int
}

func newMemStore() *memStore {
	return &memStore{
		statuses: make(map[int64]*models.OperationStatus),
		sources: map[int64]*models.InfoSource{
			1: {ID: 1, Name: "Из прайса"},
			2: {ID: 2, Name: "Manual"},
			3: {ID: 3, Name: "Retired", Deleted: models.StateDeleted},
		},
		shops: map[int64]*models.Shop{
			1: {ID: 1, Name: "Main"},
			2: {ID: 2, Name: "Outlet"},
		},
		rules: map[int64]*models.SynchronizationRule{
			1: {ID: 1, Code: 1, Name: "Price list"},
		},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetEntriesBySKUs(_ context.Context, sourceID, shopID int64, skus []string) ([]models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(skus))
	for _, sku := range skus {
		wanted[sku] = true
	}

	var found []models.CatalogEntry
	for _, e := range m.entries {
		if e.InfoSourceID == sourceID && e.ShopID == shopID && wanted[e.SKU] {
			found = append(found, cloneEntry(e))
		}
	}
	return found, nil
}

func (m *memStore) SaveBatch(_ context.Context, inserts, updates []*models.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCalls++
	if m.saveErr != nil && m.saveCalls >= m.failSave {
		return m.saveErr
	}

	for _, e := range inserts {
		e.ID = m.id()
		c := cloneEntry(e)
		m.entries = append(m.entries, &c)
	}
	for _, e := range updates {
		for i, stored := range m.entries {
			if stored.ID == e.ID {
				c := cloneEntry(e)
				m.entries[i] = &c
			}
		}
	}
	return nil
}

func (m *memStore) MarkStaleDeleted(_ context.Context, cutover time.Time, sourceID, shopID int64, now time.Time, changer string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.InfoSourceID != sourceID || e.ShopID != shopID || e.Deleted != models.StateActive {
			continue
		}
		if e.Changed == nil || !e.Changed.Before(cutover) {
			continue
		}
		stamp := now
		who := changer
		e.Deleted = models.StateDeleted
		e.Changed = &stamp
		e.Changer = &who
		n++
	}
	return n, nil
}

func (m *memStore) StartStatus(_ context.Context, operationID int64, phase string, begin time.Time) (*models.OperationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return nil, m.statusErr
	}

	if current, ok := m.statuses[operationID]; ok && !current.Finished() && current.CurrentOperation != models.PhaseQueued {
		return nil, fmt.Errorf("status %d: %w", operationID, store.ErrOperationRunning)
	}

	id := m.id()
	if operationID == 0 {
		operationID = id
	}
	b := begin
	status := &models.OperationStatus{ID: id, OperationID: operationID, CurrentOperation: phase, BeginOperation: &b}
	m.statuses[operationID] = status
	m.progress = nil

	c := *status
	return &c, nil
}

func (m *memStore) UpdateProgress(_ context.Context, operationID int64, current, total int, phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return m.statusErr
	}
	status, ok := m.statuses[operationID]
	if !ok || status.Finished() {
		return nil
	}
	status.Current, status.Total, status.CurrentOperation = current, total, phase
	m.progress = append(m.progress, progressCall{Current: current, Total: total, Phase: phase})
	return nil
}

func (m *memStore) FinishStatus(_ context.Context, operationID int64, end time.Time, phase string, errorText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return m.statusErr
	}
	status, ok := m.statuses[operationID]
	if !ok || status.Finished() {
		return fmt.Errorf("running operation %d: %w", operationID, store.ErrNotFound)
	}
	e := end
	status.EndOperation = &e
	status.CurrentOperation = phase
	status.ErrorText = errorText
	return nil
}

func (m *memStore) GetStatusByOperationID(_ context.Context, operationID int64) (*models.OperationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return nil, m.statusErr
	}
	status, ok := m.statuses[operationID]
	if !ok {
		return nil, fmt.Errorf("operation %d: %w", operationID, store.ErrNotFound)
	}
	c := *status
	return &c, nil
}

func (m *memStore) GetInfoSourceByName(_ context.Context, name string) (*models.InfoSource, error) {
	for _, s := range m.sources {
		if s.Name == name && s.Deleted == models.StateActive {
			return s, nil
		}
	}
	return nil, fmt.Errorf("info source %q: %w", name, store.ErrNotFound)
}

func (m *memStore) GetInfoSourceByID(_ context.Context, id int64) (*models.InfoSource, error) {
	if s, ok := m.sources[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("info source %d: %w", id, store.ErrNotFound)
}

func (m *memStore) GetShopByID(_ context.Context, id int64) (*models.Shop, error) {
	if s, ok := m.shops[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("shop %d: %w", id, store.ErrNotFound)
}

func (m *memStore) GetShopByName(_ context.Context, name string) (*models.Shop, error) {
	for _, s := range m.shops {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("shop %q: %w", name, store.ErrNotFound)
}

func (m *memStore) GetSynchronizationRuleByID(_ context.Context, id int64) (*models.SynchronizationRule, error) {
	if r, ok := m.rules[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("synchronization rule %d: %w", id, store.ErrNotFound)
}

// entry returns a copy of the stored entry with the given scope and SKU
func (m *memStore) entry(sourceID, shopID int64, sku string) (models.CatalogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.InfoSourceID == sourceID && e.ShopID == shopID && e.SKU == sku {
			return cloneEntry(e), true
		}
	}
	return models.CatalogEntry{}, false
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memStore) progressCalls() []progressCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]progressCall(nil), m.progress...)
}

// seed stores an entry as if written earlier
func (m *memStore) seed(sourceID, shopID int64, sku string, changed time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := changed
	m.entries = append(m.entries, &models.CatalogEntry{
		ID:           m.id(),
		InfoSourceID: sourceID,
		ShopID:       shopID,
		SKU:          sku,
		Name:         sku,
		Changed:      &c,
	})
}

func cloneEntry(e *models.CatalogEntry) models.CatalogEntry {
	c := *e
	if e.Changed != nil {
		t := *e.Changed
		c.Changed = &t
	}
	if e.Rest != nil {
		r := *e.Rest
		c.Rest = &r
	}
	return c
}

// mockPublisher records published lifecycle events
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSyncStarted(ctx context.Context, event *models.SyncStartedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishImagesSynced(ctx context.Context, event *models.ImagesSyncedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishImagesSyncFailed(ctx context.Context, event *models.ImagesSyncFailedEvent) error {
	return m.Called(ctx, event).Error(0)
}

// memLocker is a single-process Locker
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := fmt.Sprintf("token-%d", len(l.held)+1)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] != token {
		return errors.New("lock not owned")
	}
	delete(l.held, key)
	return nil
}

// clock hands out increasing instants
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock {
	return &clock{now: start}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
