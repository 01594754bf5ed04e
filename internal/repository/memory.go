package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps all records in process. Transactions run against a
// private copy of the state that replaces the live state on commit, so readers
// never observe a partially applied transaction.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Queries returns the non-transactional query set.
func (s *MemoryStore) Queries() Queries {
	return &memQueries{store: s}
}

// RunInTx executes fn against a snapshot committed only when fn succeeds.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&memQueries{store: s, tx: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

type memState struct {
	active           map[ThresholdKey]models.ThresholdConfig
	history          []models.ThresholdHistoryEntry
	requests         map[uuid.UUID]models.ThresholdChangeRequest
	events           []models.ThresholdChangeEvent
	eventKeys        map[string]struct{}
	notifications    map[uuid.UUID]models.ThresholdNotification
	notificationKeys map[string]struct{}
	historySeq       int64
	eventSeq         int64
}

func newMemState() *memState {
	return &memState{
		active:           map[ThresholdKey]models.ThresholdConfig{},
		requests:         map[uuid.UUID]models.ThresholdChangeRequest{},
		eventKeys:        map[string]struct{}{},
		notifications:    map[uuid.UUID]models.ThresholdNotification{},
		notificationKeys: map[string]struct{}{},
	}
}

func (st *memState) clone() *memState {
	return &memState{
		active:           maps.Clone(st.active),
		history:          slices.Clone(st.history),
		requests:         maps.Clone(st.requests),
		events:           slices.Clone(st.events),
		eventKeys:        maps.Clone(st.eventKeys),
		notifications:    maps.Clone(st.notifications),
		notificationKeys: maps.Clone(st.notificationKeys),
		historySeq:       st.historySeq,
		eventSeq:         st.eventSeq,
	}
}

type memQueries struct {
	store *MemoryStore
	tx    *memState
}

func (q *memQueries) view(fn func(st *memState) error) error {
	if q.tx != nil {
		return fn(q.tx)
	}
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()
	return fn(q.store.state)
}

func (q *memQueries) update(fn func(st *memState) error) error {
	if q.tx != nil {
		return fn(q.tx)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.state)
}

func (q *memQueries) GetActiveThreshold(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error) {
	var cfg models.ThresholdConfig
	err := q.view(func(st *memState) error {
		found, ok := st.active[key]
		if !ok {
			return fmt.Errorf("active threshold %s: %w", key, domain.ErrNotFound)
		}
		cfg = found
		return nil
	})
	return cfg, err
}

func (q *memQueries) GetActiveThresholdForUpdate(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error) {
	return q.GetActiveThreshold(ctx, key)
}

// LockThresholdSlot is a no-op: RunInTx already holds the store-wide lock.
func (q *memQueries) LockThresholdSlot(ctx context.Context, key ThresholdKey) error {
	return nil
}

func (q *memQueries) UpsertActiveThreshold(ctx context.Context, cfg models.ThresholdConfig) error {
	return q.update(func(st *memState) error {
		cfg.IsActive = true
		st.active[KeyOf(cfg)] = cfg
		return nil
	})
}

func (q *memQueries) ListActiveThresholds(ctx context.Context, tenantID string) ([]models.ThresholdConfig, error) {
	var out []models.ThresholdConfig
	err := q.view(func(st *memState) error {
		for key, cfg := range st.active {
			if key.TenantID == tenantID {
				out = append(out, cfg)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].CurrencyOrAsset < out[j].CurrencyOrAsset
	})
	return out, err
}

func (q *memQueries) AppendThresholdHistory(ctx context.Context, entry models.ThresholdHistoryEntry) (int64, error) {
	var seq int64
	err := q.update(func(st *memState) error {
		st.historySeq++
		entry.Sequence = st.historySeq
		entry.Config.IsActive = false
		st.history = append(st.history, entry)
		seq = entry.Sequence
		return nil
	})
	return seq, err
}

func (q *memQueries) ListThresholdHistory(ctx context.Context, key ThresholdKey, limit int32) ([]models.ThresholdHistoryEntry, error) {
	limit = clampLimit(limit)
	var out []models.ThresholdHistoryEntry
	err := q.view(func(st *memState) error {
		for i := len(st.history) - 1; i >= 0 && int32(len(out)) < limit; i-- {
			if KeyOf(st.history[i].Config) == key {
				out = append(out, st.history[i])
			}
		}
		return nil
	})
	return out, err
}

func (q *memQueries) InsertChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) error {
	return q.update(func(st *memState) error {
		if _, exists := st.requests[req.RequestID]; exists {
			return fmt.Errorf("change request %s already exists", req.RequestID)
		}
		st.requests[req.RequestID] = req
		return nil
	})
}

func (q *memQueries) GetChangeRequest(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	var req models.ThresholdChangeRequest
	err := q.view(func(st *memState) error {
		found, ok := st.requests[requestID]
		if !ok {
			return fmt.Errorf("change request %s: %w", requestID, domain.ErrNotFound)
		}
		req = found
		return nil
	})
	return req, err
}

func (q *memQueries) GetChangeRequestForUpdate(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	return q.GetChangeRequest(ctx, requestID)
}

func (q *memQueries) ResolveChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) (int64, error) {
	var rows int64
	err := q.update(func(st *memState) error {
		current, ok := st.requests[req.RequestID]
		if !ok || current.Status() != domain.StatusPending {
			return nil
		}
		current.Outcome = req.Outcome
		st.requests[req.RequestID] = current
		rows = 1
		return nil
	})
	return rows, err
}

func (q *memQueries) ListChangeRequests(ctx context.Context, arg ListChangeRequestsParams) ([]models.ThresholdChangeRequest, error) {
	var matched []models.ThresholdChangeRequest
	err := q.view(func(st *memState) error {
		for _, req := range st.requests {
			if req.TenantID != arg.TenantID {
				continue
			}
			if arg.Status != "" && req.Status() != arg.Status {
				continue
			}
			matched = append(matched, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRequests(matched)
	return page(matched, arg.Offset, clampLimit(arg.Limit)), nil
}

func (q *memQueries) ListDuePendingRequests(ctx context.Context, tenantID string, now time.Time, limit int32) ([]models.ThresholdChangeRequest, error) {
	var due []models.ThresholdChangeRequest
	err := q.view(func(st *memState) error {
		for _, req := range st.requests {
			if tenantID != "" && req.TenantID != tenantID {
				continue
			}
			if req.ExpiryDue(now) {
				due = append(due, req)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	return page(due, 0, clampLimit(limit)), nil
}

func (q *memQueries) AppendEvent(ctx context.Context, event *models.ThresholdChangeEvent) (bool, error) {
	var inserted bool
	err := q.update(func(st *memState) error {
		if _, dup := st.eventKeys[event.IdempotencyKey]; dup {
			return nil
		}
		st.eventSeq++
		event.Sequence = st.eventSeq
		st.events = append(st.events, *event)
		st.eventKeys[event.IdempotencyKey] = struct{}{}
		inserted = true
		return nil
	})
	return inserted, err
}

func (q *memQueries) ListEvents(ctx context.Context, arg ListEventsParams) ([]models.ThresholdChangeEvent, error) {
	limit := clampLimit(arg.Limit)
	var out []models.ThresholdChangeEvent
	err := q.view(func(st *memState) error {
		for _, ev := range st.events {
			if ev.TenantID != arg.TenantID {
				continue
			}
			if arg.RequestID != nil && ev.RequestID != *arg.RequestID {
				continue
			}
			out = append(out, ev)
			if int32(len(out)) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (q *memQueries) InsertNotification(ctx context.Context, n models.ThresholdNotification) (bool, error) {
	var inserted bool
	err := q.update(func(st *memState) error {
		if _, dup := st.notificationKeys[n.IdempotencyKey]; dup {
			return nil
		}
		st.notifications[n.NotificationID] = n
		st.notificationKeys[n.IdempotencyKey] = struct{}{}
		inserted = true
		return nil
	})
	return inserted, err
}

func (q *memQueries) ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]models.ThresholdNotification, error) {
	var out []models.ThresholdNotification
	err := q.view(func(st *memState) error {
		for _, n := range st.notifications {
			if n.TenantID != filter.TenantID {
				continue
			}
			if filter.UnreadOnly && n.IsRead {
				continue
			}
			if len(filter.Roles) > 0 && !slices.ContainsFunc(filter.Roles, n.TargetsRole) {
				continue
			}
			out = append(out, n)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EventSequence > out[j].EventSequence })
	return page(out, 0, clampLimit(filter.Limit)), err
}

func (q *memQueries) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, at time.Time) (models.ThresholdNotification, error) {
	var n models.ThresholdNotification
	err := q.update(func(st *memState) error {
		found, ok := st.notifications[notificationID]
		if !ok {
			return fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
		}
		if !found.IsRead {
			found.IsRead = true
			found.ReadAt = &at
			st.notifications[notificationID] = found
		}
		n = found
		return nil
	})
	return n, err
}

func sortRequests(reqs []models.ThresholdChangeRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].RequestedAt.Equal(reqs[j].RequestedAt) {
			return reqs[i].RequestedAt.After(reqs[j].RequestedAt)
		}
		return reqs[i].RequestID.String() < reqs[j].RequestID.String()
	})
}

func page[T any](items []T, offset, limit int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	end := int(offset) + int(limit)
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
