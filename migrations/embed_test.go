package migrations

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	require.NoError(t, Validate(FS()))
	assert.Equal(t, 3, Latest(FS()))

	infos, err := List(FS())
	require.NoError(t, err)
	assert.Len(t, infos, 6)
	assert.Equal(t, "001_collection_jobs.down.sql", infos[0].Filename)
}

func TestValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	file := &fstest.MapFile{Data: []byte("SELECT 1;")}

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr error
	}{
		{
			name:    "empty",
			fsys:    fstest.MapFS{"README.md": file},
			wantErr: ErrNoMigrations,
		},
		{
			name:    "missing down",
			fsys:    fstest.MapFS{"001_init.up.sql": file},
			wantErr: ErrUnpairedMigration,
		},
		{
			name: "gap",
			fsys: fstest.MapFS{
				"001_init.up.sql":   file,
				"001_init.down.sql": file,
				"003_more.up.sql":   file,
				"003_more.down.sql": file,
			},
			wantErr: ErrSequenceGap,
		},
		{
			name: "ignores badly named files",
			fsys: fstest.MapFS{
				"001_init.up.sql":   file,
				"001_init.down.sql": file,
				"2_bad.up.sql":      file,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.fsys)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}
