package collection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damsafe-io/damsafe/internal/collection"
)

func TestLoadConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("COLLECTION_ENABLED", "")
	t.Setenv("COLLECTION_SCHEDULE", "")
	t.Setenv("COLLECTION_TIMEZONE", "")

	cfg := collection.LoadConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "0 6 * * *", cfg.Schedule)
	require.NotNil(t, cfg.Location)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("COLLECTION_ENABLED", "false")
	t.Setenv("COLLECTION_SCHEDULE", "30 7 * * 1-5")
	t.Setenv("COLLECTION_TIMEZONE", "UTC")

	cfg := collection.LoadConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "30 7 * * 1-5", cfg.Schedule)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestConfig_ValidateRejectsBadSchedule(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, schedule := range []string{"", "every day", "61 6 * * *", "0 6 * *"} {
		cfg := &collection.Config{Schedule: schedule}
		assert.ErrorIs(t, cfg.Validate(), collection.ErrInvalidSchedule, "schedule %q", schedule)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newFixture(t)

	_, err := collection.NewScheduler(f.orch, &collection.Config{Schedule: "bogus"}, nil)
	require.ErrorIs(t, err, collection.ErrInvalidSchedule)

	scheduler, err := collection.NewScheduler(f.orch, &collection.Config{
		Enabled:  true,
		Schedule: "0 6 * * *",
		Location: saoPaulo,
	}, nil)
	require.NoError(t, err)

	scheduler.Start()
	require.NoError(t, scheduler.Stop(t.Context()))
	assert.Zero(t, f.observer.runs(), "nothing fires before the scheduled time")
}
