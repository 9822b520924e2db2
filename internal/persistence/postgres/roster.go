// Package postgres provides a Postgres-backed roster.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/mergington/internal/domain"
	"example.com/mergington/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS activities (
    name             TEXT PRIMARY KEY,
    description      TEXT NOT NULL,
    schedule         TEXT NOT NULL,
    max_participants INTEGER NOT NULL CHECK (max_participants > 0)
);

CREATE TABLE IF NOT EXISTS activity_participants (
    activity_name TEXT NOT NULL REFERENCES activities (name) ON DELETE CASCADE,
    email         TEXT NOT NULL,
    position      INTEGER NOT NULL,
    PRIMARY KEY (activity_name, email)
);

CREATE INDEX IF NOT EXISTS activity_participants_position_idx
    ON activity_participants (activity_name, position);
`

// Roster stores activities and their ordered participants in Postgres.
type Roster struct {
	pool *pgxpool.Pool
}

// NewRoster constructs a Roster.
func NewRoster(pool *pgxpool.Pool) *Roster {
	return &Roster{pool: pool}
}

// EnsureSchema creates the roster tables when missing.
func (r *Roster) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure roster schema: %w", err)
	}
	return nil
}

// Seed inserts the provided activities when the roster is empty.
// It reports whether rows were written.
func (r *Roster) Seed(ctx context.Context, seed []domain.Activity) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Serialise concurrent seeders so only one observes the empty table.
	if _, err := tx.Exec(ctx, "LOCK TABLE activities IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return false, err
	}

	var existing int
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM activities").Scan(&existing); err != nil {
		return false, err
	}
	if existing > 0 {
		return false, tx.Commit(ctx)
	}

	for _, activity := range seed {
		if _, err := tx.Exec(ctx,
			`INSERT INTO activities (name, description, schedule, max_participants) VALUES ($1,$2,$3,$4)`,
			activity.Name, activity.Description, activity.Schedule, activity.MaxParticipants,
		); err != nil {
			return false, fmt.Errorf("seed activity %q: %w", activity.Name, err)
		}
		if err := writeParticipants(ctx, tx, activity.Name, activity.Participants); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	for _, activity := range seed {
		observability.RecordParticipants(activity.Name, len(activity.Participants))
	}
	return true, nil
}

// List implements domain.Roster. Both queries read from one snapshot.
func (r *Roster) List(ctx context.Context) (map[string]domain.Activity, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT name, description, schedule, max_participants FROM activities`)
	if err != nil {
		return nil, err
	}
	activities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Activity, error) {
		var a domain.Activity
		err := row.Scan(&a.Name, &a.Description, &a.Schedule, &a.MaxParticipants)
		a.Participants = []string{}
		return a, err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.Activity, len(activities))
	for _, a := range activities {
		out[a.Name] = a
	}

	rows, err = tx.Query(ctx, `SELECT activity_name, email FROM activity_participants ORDER BY activity_name, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, email string
		if err := rows.Scan(&name, &email); err != nil {
			return nil, err
		}
		a, ok := out[name]
		if !ok {
			continue
		}
		a.Participants = append(a.Participants, email)
		out[name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Update implements domain.Roster. The activity row is locked for the
// duration of fn so concurrent updates to one activity are serialised.
func (r *Roster) Update(ctx context.Context, name string, fn func(*domain.Activity) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	activity := domain.Activity{Name: name}
	err = tx.QueryRow(ctx,
		`SELECT description, schedule, max_participants FROM activities WHERE name=$1 FOR UPDATE`, name,
	).Scan(&activity.Description, &activity.Schedule, &activity.MaxParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrActivityNotFound
		}
		return err
	}

	rows, err := tx.Query(ctx, `SELECT email FROM activity_participants WHERE activity_name=$1 ORDER BY position`, name)
	if err != nil {
		return err
	}
	activity.Participants, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}

	if err = fn(&activity); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE activities SET description=$2, schedule=$3, max_participants=$4 WHERE name=$1`,
		name, activity.Description, activity.Schedule, activity.MaxParticipants,
	); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM activity_participants WHERE activity_name=$1`, name); err != nil {
		return err
	}
	if err = writeParticipants(ctx, tx, name, activity.Participants); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordParticipants(name, len(activity.Participants))
	observability.RecordMutation(time.Now())
	return nil
}

func writeParticipants(ctx context.Context, tx pgx.Tx, name string, participants []string) error {
	if len(participants) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(participants))
	for i, email := range participants {
		rows = append(rows, []any{name, email, i})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"activity_participants"},
		[]string{"activity_name", "email", "position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("write participants for %q: %w", name, err)
	}
	return nil
}
