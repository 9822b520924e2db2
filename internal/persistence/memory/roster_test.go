package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/mergington/internal/domain"
)

func TestSeededRosterContainsFixtureActivities(t *testing.T) {
	roster := NewSeededRoster()

	activities, err := roster.List(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"Chess Club", "Programming Class", "Gym Class", "Basketball Team", "Art Studio"} {
		activity, ok := activities[name]
		require.True(t, ok, "missing %s", name)
		require.NotEmpty(t, activity.Participants)
		require.Positive(t, activity.MaxParticipants)
	}
	require.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, activities["Chess Club"].Participants)
}

func TestListReturnsIndependentCopies(t *testing.T) {
	roster := NewSeededRoster()
	ctx := context.Background()

	first, err := roster.List(ctx)
	require.NoError(t, err)
	chess := first["Chess Club"]
	chess.Participants[0] = "mutated@mergington.edu"
	chess.Participants = append(chess.Participants, "extra@mergington.edu")

	second, err := roster.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, second["Chess Club"].Participants)
}

func TestUpdateUnknownActivity(t *testing.T) {
	roster := NewSeededRoster()

	called := false
	err := roster.Update(context.Background(), "chess club", func(*domain.Activity) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrActivityNotFound)
	require.False(t, called)
}

func TestUpdateDiscardsChangesOnError(t *testing.T) {
	roster := NewSeededRoster()
	ctx := context.Background()
	boom := errors.New("boom")

	err := roster.Update(ctx, "Gym Class", func(a *domain.Activity) error {
		a.Participants = append(a.Participants, "ghost@mergington.edu")
		return boom
	})
	require.ErrorIs(t, err, boom)

	activities, err := roster.List(ctx)
	require.NoError(t, err)
	require.NotContains(t, activities["Gym Class"].Participants, "ghost@mergington.edu")
}

func TestConcurrentSignupsKeepParticipantsUnique(t *testing.T) {
	roster := NewRoster([]domain.Activity{{
		Name:            "Chess Club",
		MaxParticipants: 12,
		Participants:    []string{},
	}})
	service := domain.NewService(roster)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("student%d@mergington.edu", i%10)
			if _, err := service.Signup(ctx, "Chess Club", email); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	activities, err := roster.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, successes)
	require.Len(t, activities["Chess Club"].Participants, 10)
}
