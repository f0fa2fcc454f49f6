package events

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/models"
	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

//go:embed schema.sql
var schemaSQL string

const eventColumns = `id, title, location, description, scheduled_at, recurrence,
	active, notifications_enabled, lead_times, recipients, last_notified_at`

const queryListCandidates = `SELECT ` + eventColumns + `
	FROM events
	WHERE active AND notifications_enabled
	  AND (scheduled_at > $1 OR recurrence <> '')
	ORDER BY scheduled_at, id`

const queryGetEvent = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

const queryMarkNotified = `UPDATE events
	SET last_notified_at = $3
	WHERE id = $1 AND last_notified_at IS NOT DISTINCT FROM $2::timestamptz`

// PostgresRepository stores events in the events table of schema.sql.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply events schema: %w", err)
	}
	log.Info().Msg("Events schema ensured successfully")
	return nil
}

func (r *PostgresRepository) ListCandidates(ctx context.Context, now time.Time) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, queryListCandidates, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id string) (models.Event, error) {
	key, err := parseID(id)
	if err != nil {
		return models.Event{}, err
	}
	ev, err := scanEvent(r.pool.QueryRow(ctx, queryGetEvent, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Event{}, fmt.Errorf("%w: %s", notifier.ErrEventNotFound, id)
		}
		return models.Event{}, err
	}
	return ev, nil
}

// MarkNotified is a single conditional UPDATE; the row lock taken by
// Postgres serialises competing claims.
func (r *PostgresRepository) MarkNotified(ctx context.Context, id string, expected *time.Time, now time.Time) (bool, error) {
	key, err := parseID(id)
	if err != nil {
		return false, err
	}
	var prior any
	if expected != nil {
		prior = storedInstant(*expected)
	}
	tag, err := r.pool.Exec(ctx, queryMarkNotified, key, prior, storedInstant(now))
	if err != nil {
		log.Error().Err(err).Str("event_id", id).Msg("Failed to update last_notified_at")
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var (
		ev   models.Event
		id   int64
		last *time.Time
	)
	err := row.Scan(
		&id,
		&ev.Title,
		&ev.Location,
		&ev.Description,
		&ev.ScheduledAt,
		&ev.Recurrence,
		&ev.Active,
		&ev.NotificationsEnabled,
		&ev.LeadTimeSpec,
		&ev.Recipients,
		&last,
	)
	if err != nil {
		return models.Event{}, err
	}
	ev.ID = strconv.FormatInt(id, 10)
	ev.ScheduledAt = ev.ScheduledAt.UTC()
	if last != nil {
		at := last.UTC()
		ev.LastNotifiedAt = &at
	}
	return ev, nil
}

func parseID(id string) (int64, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil || key <= 0 {
		return 0, fmt.Errorf("%w: %s", notifier.ErrEventNotFound, id)
	}
	return key, nil
}
