package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db DBTX
}

// NewPostgresQueries binds the query set to a pool or transaction.
func NewPostgresQueries(db DBTX) Queries {
	return &pgQueries{db: db}
}

const thresholdColumns = `threshold_id, tenant_id, category, currency_or_asset, amount_micros, effective_from, set_by, set_at, source_request_id`

func scanThreshold(row pgx.Row) (models.ThresholdConfig, error) {
	var (
		cfg      models.ThresholdConfig
		category string
		micros   int64
		source   uuid.NullUUID
	)
	if err := row.Scan(&cfg.ThresholdID, &cfg.TenantID, &category, &cfg.CurrencyOrAsset, &micros, &cfg.EffectiveFrom, &cfg.SetBy, &cfg.SetAt, &source); err != nil {
		return cfg, err
	}
	cfg.Category = domain.Category(category)
	cfg.Amount = domain.Amount(micros)
	cfg.IsActive = true
	if source.Valid {
		id := source.UUID
		cfg.SourceRequestID = &id
	}
	return cfg, nil
}

func (q *pgQueries) getActive(ctx context.Context, key ThresholdKey, suffix string) (models.ThresholdConfig, error) {
	query := `SELECT ` + thresholdColumns + ` FROM threshold_configs
		WHERE tenant_id = $1 AND category = $2 AND currency_or_asset = $3` + suffix
	cfg, err := scanThreshold(q.db.QueryRow(ctx, query, key.TenantID, string(key.Category), key.CurrencyOrAsset))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, fmt.Errorf("active threshold %s: %w", key, domain.ErrNotFound)
		}
		return cfg, fmt.Errorf("failed to get active threshold: %w", err)
	}
	return cfg, nil
}

func (q *pgQueries) GetActiveThreshold(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error) {
	return q.getActive(ctx, key, "")
}

func (q *pgQueries) GetActiveThresholdForUpdate(ctx context.Context, key ThresholdKey) (models.ThresholdConfig, error) {
	return q.getActive(ctx, key, " FOR UPDATE")
}

// LockThresholdSlot takes a transaction-scoped advisory lock on the pair.
// FOR UPDATE cannot lock a row that does not exist yet, so without it two
// replicas could both insert the first config of a pair and one would be lost
// without reaching history.
func (q *pgQueries) LockThresholdSlot(ctx context.Context, key ThresholdKey) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "threshold:"+key.String()); err != nil {
		return fmt.Errorf("failed to lock threshold slot: %w", err)
	}
	return nil
}

func (q *pgQueries) UpsertActiveThreshold(ctx context.Context, cfg models.ThresholdConfig) error {
	query := `
		INSERT INTO threshold_configs (` + thresholdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, category, currency_or_asset) DO UPDATE SET
			threshold_id = EXCLUDED.threshold_id,
			amount_micros = EXCLUDED.amount_micros,
			effective_from = EXCLUDED.effective_from,
			set_by = EXCLUDED.set_by,
			set_at = EXCLUDED.set_at,
			source_request_id = EXCLUDED.source_request_id
	`
	_, err := q.db.Exec(ctx, query, cfg.ThresholdID, cfg.TenantID, string(cfg.Category), cfg.CurrencyOrAsset,
		cfg.Amount.Micros(), cfg.EffectiveFrom, cfg.SetBy, cfg.SetAt, cfg.SourceRequestID)
	if err != nil {
		return fmt.Errorf("failed to upsert active threshold: %w", err)
	}
	return nil
}

func (q *pgQueries) ListActiveThresholds(ctx context.Context, tenantID string) ([]models.ThresholdConfig, error) {
	query := `SELECT ` + thresholdColumns + ` FROM threshold_configs
		WHERE tenant_id = $1 ORDER BY category, currency_or_asset`
	rows, err := q.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdConfig
	for rows.Next() {
		cfg, err := scanThreshold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (q *pgQueries) AppendThresholdHistory(ctx context.Context, entry models.ThresholdHistoryEntry) (int64, error) {
	cfg := entry.Config
	query := `
		INSERT INTO threshold_history (` + thresholdColumns + `, superseded_at, superseded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING sequence
	`
	var seq int64
	err := q.db.QueryRow(ctx, query, cfg.ThresholdID, cfg.TenantID, string(cfg.Category), cfg.CurrencyOrAsset,
		cfg.Amount.Micros(), cfg.EffectiveFrom, cfg.SetBy, cfg.SetAt, cfg.SourceRequestID,
		entry.SupersededAt, entry.SupersededBy).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append threshold history: %w", err)
	}
	return seq, nil
}

func (q *pgQueries) ListThresholdHistory(ctx context.Context, key ThresholdKey, limit int32) ([]models.ThresholdHistoryEntry, error) {
	query := `SELECT sequence, ` + thresholdColumns + `, superseded_at, superseded_by
		FROM threshold_history
		WHERE tenant_id = $1 AND category = $2 AND currency_or_asset = $3
		ORDER BY sequence DESC
		LIMIT $4`
	rows, err := q.db.Query(ctx, query, key.TenantID, string(key.Category), key.CurrencyOrAsset, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list threshold history: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdHistoryEntry
	for rows.Next() {
		var (
			e        models.ThresholdHistoryEntry
			category string
			micros   int64
			source   uuid.NullUUID
		)
		c := &e.Config
		if err := rows.Scan(&e.Sequence, &c.ThresholdID, &c.TenantID, &category, &c.CurrencyOrAsset, &micros,
			&c.EffectiveFrom, &c.SetBy, &c.SetAt, &source, &e.SupersededAt, &e.SupersededBy); err != nil {
			return nil, fmt.Errorf("failed to scan threshold history: %w", err)
		}
		c.Category = domain.Category(category)
		c.Amount = domain.Amount(micros)
		if source.Valid {
			id := source.UUID
			c.SourceRequestID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const requestColumns = `request_id, tenant_id, category, currency_or_asset, current_amount_micros, new_amount_micros,
	magnitude_percent::text, requires_approval, requested_by, requested_at, expires_at,
	status, resolved_by, resolved_at, rejection_reason, auto_approved`

func scanRequest(row pgx.Row) (models.ThresholdChangeRequest, error) {
	var (
		req       models.ThresholdChangeRequest
		category  string
		current   int64
		proposed  int64
		magnitude string
		status    string
		outcome   models.OutcomeRow
	)
	err := row.Scan(&req.RequestID, &req.TenantID, &category, &req.CurrencyOrAsset, &current, &proposed,
		&magnitude, &req.RequiresApproval, &req.RequestedBy, &req.RequestedAt, &req.ExpiresAt,
		&status, &outcome.ResolvedBy, &outcome.ResolvedAt, &outcome.Reason, &outcome.Automatic)
	if err != nil {
		return req, err
	}
	mag, err := decimal.NewFromString(magnitude)
	if err != nil {
		return req, fmt.Errorf("parse magnitude %q: %w", magnitude, err)
	}
	req.Category = domain.Category(category)
	req.CurrentAmount = domain.Amount(current)
	req.NewAmount = domain.Amount(proposed)
	req.MagnitudePercent = mag
	outcome.Status = domain.Status(status)
	req.Outcome = outcome.Outcome()
	return req, nil
}

func (q *pgQueries) InsertChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) error {
	row := req.Flatten()
	query := `
		INSERT INTO threshold_change_requests (
			request_id, tenant_id, category, currency_or_asset, current_amount_micros, new_amount_micros,
			magnitude_percent, requires_approval, requested_by, requested_at, expires_at,
			status, resolved_by, resolved_at, rejection_reason, auto_approved
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := q.db.Exec(ctx, query, req.RequestID, req.TenantID, string(req.Category), req.CurrencyOrAsset,
		req.CurrentAmount.Micros(), req.NewAmount.Micros(), req.MagnitudePercent.String(), req.RequiresApproval,
		req.RequestedBy, req.RequestedAt, req.ExpiresAt,
		string(row.Status), row.ResolvedBy, row.ResolvedAt, row.Reason, row.Automatic)
	if err != nil {
		return fmt.Errorf("failed to insert change request: %w", err)
	}
	return nil
}

func (q *pgQueries) getRequest(ctx context.Context, requestID uuid.UUID, suffix string) (models.ThresholdChangeRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM threshold_change_requests WHERE request_id = $1` + suffix
	req, err := scanRequest(q.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return req, fmt.Errorf("change request %s: %w", requestID, domain.ErrNotFound)
		}
		return req, fmt.Errorf("failed to get change request: %w", err)
	}
	return req, nil
}

func (q *pgQueries) GetChangeRequest(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	return q.getRequest(ctx, requestID, "")
}

func (q *pgQueries) GetChangeRequestForUpdate(ctx context.Context, requestID uuid.UUID) (models.ThresholdChangeRequest, error) {
	return q.getRequest(ctx, requestID, " FOR UPDATE")
}

func (q *pgQueries) ResolveChangeRequest(ctx context.Context, req models.ThresholdChangeRequest) (int64, error) {
	row := req.Flatten()
	query := `
		UPDATE threshold_change_requests
		SET status = $2, resolved_by = $3, resolved_at = $4, rejection_reason = $5, auto_approved = $6
		WHERE request_id = $1 AND status = 'PENDING'
	`
	tag, err := q.db.Exec(ctx, query, req.RequestID, string(row.Status), row.ResolvedBy, row.ResolvedAt, row.Reason, row.Automatic)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve change request: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *pgQueries) queryRequests(ctx context.Context, query string, args ...any) ([]models.ThresholdChangeRequest, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdChangeRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (q *pgQueries) ListChangeRequests(ctx context.Context, arg ListChangeRequestsParams) ([]models.ThresholdChangeRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM threshold_change_requests
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC, request_id
		LIMIT $3 OFFSET $4`
	offset := arg.Offset
	if offset < 0 {
		offset = 0
	}
	return q.queryRequests(ctx, query, arg.TenantID, string(arg.Status), clampLimit(arg.Limit), offset)
}

func (q *pgQueries) ListDuePendingRequests(ctx context.Context, tenantID string, now time.Time, limit int32) ([]models.ThresholdChangeRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM threshold_change_requests
		WHERE status = 'PENDING' AND expires_at <= $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY expires_at
		LIMIT $3`
	return q.queryRequests(ctx, query, now, tenantID, clampLimit(limit))
}

const eventColumns = `sequence, event_id, tenant_id, event_type, request_id, category, currency_or_asset,
	before_amount_micros, after_amount_micros, actor, actor_capabilities, magnitude_percent::text,
	execution_mode, reason, idempotency_key, created_at`

func (q *pgQueries) AppendEvent(ctx context.Context, event *models.ThresholdChangeEvent) (bool, error) {
	query := `
		INSERT INTO threshold_change_events (
			event_id, tenant_id, event_type, request_id, category, currency_or_asset,
			before_amount_micros, after_amount_micros, actor, actor_capabilities, magnitude_percent,
			execution_mode, reason, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING sequence
	`
	err := q.db.QueryRow(ctx, query, event.EventID, event.TenantID, string(event.EventType), event.RequestID,
		string(event.Category), event.CurrencyOrAsset, event.BeforeAmount.Micros(), event.AfterAmount.Micros(),
		event.Actor, capabilityStrings(event.ActorCapabilities), event.MagnitudePercent.String(),
		string(event.ExecutionMode), event.Reason, event.IdempotencyKey, event.CreatedAt).Scan(&event.Sequence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	return true, nil
}

func (q *pgQueries) ListEvents(ctx context.Context, arg ListEventsParams) ([]models.ThresholdChangeEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM threshold_change_events
		WHERE tenant_id = $1 AND ($2::uuid IS NULL OR request_id = $2)
		ORDER BY sequence
		LIMIT $3`
	rows, err := q.db.Query(ctx, query, arg.TenantID, arg.RequestID, clampLimit(arg.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdChangeEvent
	for rows.Next() {
		var (
			ev                        models.ThresholdChangeEvent
			eventType, category, mode string
			before, after             int64
			capabilities              []string
			magnitude                 string
		)
		if err := rows.Scan(&ev.Sequence, &ev.EventID, &ev.TenantID, &eventType, &ev.RequestID, &category,
			&ev.CurrencyOrAsset, &before, &after, &ev.Actor, &capabilities, &magnitude,
			&mode, &ev.Reason, &ev.IdempotencyKey, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		mag, err := decimal.NewFromString(magnitude)
		if err != nil {
			return nil, fmt.Errorf("parse magnitude %q: %w", magnitude, err)
		}
		ev.EventType = domain.EventType(eventType)
		ev.Category = domain.Category(category)
		ev.ExecutionMode = domain.ExecutionMode(mode)
		ev.BeforeAmount = domain.Amount(before)
		ev.AfterAmount = domain.Amount(after)
		ev.MagnitudePercent = mag
		for _, c := range capabilities {
			ev.ActorCapabilities = append(ev.ActorCapabilities, domain.Capability(c))
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const notificationColumns = `notification_id, tenant_id, event_sequence, type, title, message, request_id,
	target_roles, is_read, read_at, idempotency_key, created_at`

func scanNotification(row pgx.Row) (models.ThresholdNotification, error) {
	var (
		n     models.ThresholdNotification
		kind  string
		roles []string
	)
	if err := row.Scan(&n.NotificationID, &n.TenantID, &n.EventSequence, &kind, &n.Title, &n.Message, &n.RequestID,
		&roles, &n.IsRead, &n.ReadAt, &n.IdempotencyKey, &n.CreatedAt); err != nil {
		return n, err
	}
	n.Type = domain.NotificationType(kind)
	for _, r := range roles {
		n.TargetRoles = append(n.TargetRoles, domain.Role(r))
	}
	return n, nil
}

func (q *pgQueries) InsertNotification(ctx context.Context, n models.ThresholdNotification) (bool, error) {
	query := `
		INSERT INTO threshold_notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	tag, err := q.db.Exec(ctx, query, n.NotificationID, n.TenantID, n.EventSequence, string(n.Type), n.Title, n.Message,
		n.RequestID, roleStrings(n.TargetRoles), n.IsRead, n.ReadAt, n.IdempotencyKey, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *pgQueries) ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]models.ThresholdNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM threshold_notifications
		WHERE tenant_id = $1
		  AND (NOT $2 OR NOT is_read)
		  AND (cardinality($3::text[]) = 0 OR target_roles && $3::text[])
		ORDER BY event_sequence DESC
		LIMIT $4`
	rows, err := q.db.Query(ctx, query, filter.TenantID, filter.UnreadOnly, roleStrings(filter.Roles), clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q *pgQueries) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, at time.Time) (models.ThresholdNotification, error) {
	query := `
		UPDATE threshold_notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE notification_id = $1
		RETURNING ` + notificationColumns
	n, err := scanNotification(q.db.QueryRow(ctx, query, notificationID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return n, fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
		}
		return n, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

func capabilityStrings(caps []domain.Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return out
}

func roleStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}
