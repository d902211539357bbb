package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/storage/migrations"
	"github.com/setu/events-api/internal/storage/postgres"
	"github.com/setu/events-api/internal/types"
)

func setupPostgres(t *testing.T) (*postgres.Postgres, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("setu"),
		tcpostgres.WithUsername("setu"),
		tcpostgres.WithPassword("setu_dev"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, &config.Config{Storage: config.Storage{
		Driver:      config.DriverPostgres,
		DatabaseURL: dbURL,
		Migrate:     true,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dbURL
}

func newEvent(o types.Organizer, capacity int) types.Event {
	now := time.Now()
	return types.Event{
		Title:       "Meetup",
		Date:        types.DateOf(now).AddDays(3),
		ImageURL:    types.DefaultImageURL,
		MaxCapacity: capacity,
		Organizer:   o,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newRegistration(id int64) types.Registration {
	return types.Registration{
		RegistrantID:   id,
		RegistrantRole: types.RoleStudent,
		Name:           "Asha",
		Department:     "CSE",
		RollNumber:     "21CS10",
		Year:           2,
		RegisteredAt:   time.Now(),
	}
}

func TestPostgresStore(t *testing.T) {
	store, dbURL := setupPostgres(t)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		in := newEvent(types.AlumniOrganizer(4), 3)
		created, err := store.CreateEvent(ctx, in)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, types.OrganizerAlumni, created.Organizer.Kind)
		assert.True(t, created.Date.Equal(in.Date), "date round-trips as a calendar day")

		_, err = store.GetEvent(ctx, created.ID+1000)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("row lock serializes registrations", func(t *testing.T) {
		const seats, attempts = 3, 12
		e, err := store.CreateEvent(ctx, newEvent(types.AdminOrganizer(1), seats))
		require.NoError(t, err)

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ok  int
			out int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				err := store.WithEventLock(ctx, e.ID, func(tx storage.EventTx) error {
					if tx.Event().Full() {
						return errors.New("full")
					}
					_, err := tx.AddRegistration(ctx, newRegistration(id))
					return err
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else {
					out++
				}
			}(int64(100 + i))
		}
		wg.Wait()

		assert.Equal(t, seats, ok)
		assert.Equal(t, attempts-seats, out)

		got, err := store.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, seats, got.CurrentRegistrations)

		regs, err := store.ListEventRegistrations(ctx, e.ID)
		require.NoError(t, err)
		assert.Len(t, regs, seats)
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		e, err := store.CreateEvent(ctx, newEvent(types.AdminOrganizer(1), 5))
		require.NoError(t, err)
		add := func() error {
			return store.WithEventLock(ctx, e.ID, func(tx storage.EventTx) error {
				_, err := tx.AddRegistration(ctx, newRegistration(10))
				return err
			})
		}
		require.NoError(t, add())
		assert.ErrorIs(t, add(), storage.ErrDuplicateRegistration)
	})

	t.Run("update then cascade delete", func(t *testing.T) {
		e, err := store.CreateEvent(ctx, newEvent(types.AdminOrganizer(1), 5))
		require.NoError(t, err)

		newDate := types.DateOf(time.Now()).AddDays(9)
		err = store.WithEventLock(ctx, e.ID, func(tx storage.EventTx) error {
			updated, err := tx.UpdateEvent(ctx, types.EventPatch{Date: &newDate, UpdatedAt: time.Now()})
			if err != nil {
				return err
			}
			assert.True(t, updated.Date.Equal(newDate))
			_, err = tx.AddRegistration(ctx, newRegistration(77))
			return err
		})
		require.NoError(t, err)

		mine, err := store.ListRegistrantRegistrations(ctx, 77)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		require.NotNil(t, mine[0].Event)
		assert.Equal(t, 1, mine[0].Event.CurrentRegistrations)

		err = store.WithEventLock(ctx, e.ID, func(tx storage.EventTx) error { return tx.DeleteEvent(ctx) })
		require.NoError(t, err)

		mine, err = store.ListRegistrantRegistrations(ctx, 77)
		require.NoError(t, err)
		assert.Empty(t, mine)
	})

	t.Run("list filters", func(t *testing.T) {
		today := types.DateOf(time.Now())
		items, total, err := store.ListEvents(ctx, types.EventFilter{When: types.Past, Today: today, Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)

		_, total, err = store.ListEvents(ctx, types.EventFilter{When: types.Upcoming, Today: today, Page: 1, Limit: 1})
		require.NoError(t, err)
		assert.Positive(t, total)
	})

	t.Run("migrate down and up", func(t *testing.T) {
		store.Close()
		require.NoError(t, migrations.PostgresDown(dbURL, 1))
		require.NoError(t, migrations.PostgresUp(dbURL))
	})
}
