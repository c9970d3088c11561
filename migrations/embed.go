// Package migrations embeds the damsafe SQL schema and validates the migration set.
//
// Files follow the golang-migrate naming standard `001_name.up.sql` / `001_name.down.sql`.
// Embedding lets cmd/migrator and cmd/damsafe apply the schema without shipping a
// migrations directory next to the binary.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the source contains no migration files.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrUnpairedMigration is returned when an up file has no down file or vice versa.
	ErrUnpairedMigration = errors.New("unpaired migration")

	// ErrSequenceGap is returned when sequence numbers do not run 001, 002, ... without gaps.
	ErrSequenceGap = errors.New("migration sequence gap")
)

// Info describes one parsed migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// FS returns the embedded migration files.
func FS() fs.FS {
	return embedded
}

// List returns the migration files in fsys that match the naming standard, sorted.
func List(fsys fs.FS) ([]Info, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var infos []Info

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Filename < infos[j].Filename
	})

	return infos, nil
}

// Validate checks that fsys holds paired up/down files with a gapless sequence from 001.
func Validate(fsys fs.FS) error {
	infos, err := List(fsys)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		return ErrNoMigrations
	}

	directions := make(map[int]map[string]bool)

	for _, info := range infos {
		if directions[info.Sequence] == nil {
			directions[info.Sequence] = make(map[string]bool)
		}

		directions[info.Sequence][info.Direction] = true
	}

	sequences := make([]int, 0, len(directions))

	for seq, dirs := range directions {
		if !dirs["up"] || !dirs["down"] {
			return fmt.Errorf("%w: %03d", ErrUnpairedMigration, seq)
		}

		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, i+1, seq)
		}
	}

	return nil
}

// Latest returns the highest sequence number in fsys (0 when empty).
func Latest(fsys fs.FS) int {
	infos, err := List(fsys)
	if err != nil {
		return 0
	}

	latest := 0

	for _, info := range infos {
		if info.Sequence > latest {
			latest = info.Sequence
		}
	}

	return latest
}

func parseFilename(filename string) (Info, bool) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint: mnd
		return Info{}, false
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Info{}, false
	}

	return Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, true
}
