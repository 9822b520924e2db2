//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/mergington/internal/domain"
)

func TestRosterSignupRoundTrip(t *testing.T) {
	ctx := context.Background()
	roster := newTestRoster(t, ctx)

	seeded, err := roster.Seed(ctx, domain.DefaultActivities())
	require.NoError(t, err)
	require.True(t, seeded)

	again, err := roster.Seed(ctx, domain.DefaultActivities())
	require.NoError(t, err)
	require.False(t, again, "seed must not run twice")

	service := domain.NewService(roster)

	_, err = service.Signup(ctx, "Chess Club", "new@x.edu")
	require.NoError(t, err)

	_, err = service.Signup(ctx, "Chess Club", "new@x.edu")
	require.ErrorIs(t, err, domain.ErrAlreadySignedUp)

	_, err = service.Unregister(ctx, "Chess Club", "michael@mergington.edu")
	require.NoError(t, err)

	_, err = service.Signup(ctx, "Nonexistent Activity", "student@mergington.edu")
	require.ErrorIs(t, err, domain.ErrActivityNotFound)

	activities, err := roster.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities, len(domain.DefaultActivities()))
	require.Equal(t, []string{"daniel@mergington.edu", "new@x.edu"}, activities["Chess Club"].Participants)
	require.Equal(t, 12, activities["Chess Club"].MaxParticipants)
}

func TestRosterSerialisesConcurrentSignups(t *testing.T) {
	ctx := context.Background()
	roster := newTestRoster(t, ctx)

	_, err := roster.Seed(ctx, []domain.Activity{{
		Name:            "Art Studio",
		Description:     "Explore painting, drawing, and sculpture",
		Schedule:        "Wednesdays, 3:30 PM - 5:00 PM",
		MaxParticipants: 16,
	}})
	require.NoError(t, err)

	service := domain.NewService(roster)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = service.Signup(ctx, "Art Studio", fmt.Sprintf("artist%d@mergington.edu", i%5))
		}(i)
	}
	wg.Wait()

	activities, err := roster.List(ctx)
	require.NoError(t, err)
	require.Len(t, activities["Art Studio"].Participants, 5)
}

func TestRosterListReadsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	roster := newTestRoster(t, ctx)

	_, err := roster.Seed(ctx, []domain.Activity{{
		Name:            "Drama Club",
		Description:     "Rehearse and perform in school plays and showcases",
		Schedule:        "Thursdays, 3:30 PM - 5:30 PM",
		MaxParticipants: 20,
	}})
	require.NoError(t, err)

	service := domain.NewService(roster)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			_, _ = service.Signup(ctx, "Drama Club", fmt.Sprintf("actor%d@mergington.edu", i))
		}
	}()

	last := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		activities, err := roster.List(ctx)
		require.NoError(t, err)
		participants := activities["Drama Club"].Participants

		seen := make(map[string]struct{}, len(participants))
		for i, email := range participants {
			require.Equal(t, fmt.Sprintf("actor%d@mergington.edu", i), email)
			seen[email] = struct{}{}
		}
		require.Len(t, seen, len(participants))
		require.GreaterOrEqual(t, len(participants), last)
		last = len(participants)
	}
	require.Equal(t, 40, last)
}

func newTestRoster(t *testing.T, ctx context.Context) *Roster {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("mergington"),
		postgrescontainer.WithUsername("mergington"),
		postgrescontainer.WithPassword("mergington"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	roster := NewRoster(pool)
	require.NoError(t, roster.EnsureSchema(ctx))
	return roster
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
