package migrate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxMigrationSize bounds a single migration file
const maxMigrationSize = 10 * 1024 * 1024

var (
	// ErrDangerousSQL is returned for migrations containing statements that
	// are never run automatically
	ErrDangerousSQL = errors.New("migration contains potentially dangerous operation")

	// ErrDuplicateMigration is returned when two files define the same migration name
	ErrDuplicateMigration = errors.New("duplicate migration")

	// ErrInvalidMigration is returned for unreadable or malformed migration files
	ErrInvalidMigration = errors.New("invalid migration")
)

var dangerousSQL = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+DATABASE\b`),
	regexp.MustCompile(`(?i)\bDROP\s+SCHEMA\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
}

// Migration is one migration loaded from disk
type Migration struct {
	Name string
	Dir  string
	Up   string
	Down string
}

type yamlMigration struct {
	Up   string `yaml:"up"`
	Down string `yaml:"down"`
}

// validateSQL rejects statements that must be run by hand
func validateSQL(name, stmt string) error {
	for _, re := range dangerousSQL {
		if m := re.FindString(stmt); m != "" {
			return fmt.Errorf("%w in %s: %s", ErrDangerousSQL, name, strings.ToUpper(m))
		}
	}
	return nil
}

// load reads every migration in dirs, ordered by name. Files that are not
// migrations are ignored.
func load(dirs []string) ([]*Migration, error) {
	byName := make(map[string]*Migration)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			file := entry.Name()
			name, kind := classify(file)
			if kind == "" {
				continue
			}

			content, err := readFile(filepath.Join(dir, file))
			if err != nil {
				return nil, err
			}

			m, ok := byName[name]
			if !ok {
				m = &Migration{Name: name, Dir: dir}
				byName[name] = m
			} else if m.Dir != dir {
				return nil, fmt.Errorf("%w: %s in %s and %s", ErrDuplicateMigration, name, m.Dir, dir)
			}

			switch kind {
			case "up":
				m.Up = content
			case "down":
				m.Down = content
			case "yaml":
				if m.Up != "" || m.Down != "" {
					return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateMigration, name, dir)
				}
				var doc yamlMigration
				dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
				dec.KnownFields(true)
				if err := dec.Decode(&doc); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMigration, file, err)
				}
				m.Up, m.Down = doc.Up, doc.Down
			}
		}
	}

	migrations := make([]*Migration, 0, len(byName))
	for _, m := range byName {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("%w: %s has no up migration", ErrInvalidMigration, m.Name)
		}
		migrations = append(migrations, m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations, nil
}

// classify returns the migration name of file and whether it holds the
// up, the down or both (yaml) directions
func classify(file string) (string, string) {
	switch {
	case strings.HasSuffix(file, ".up.sql"):
		return strings.TrimSuffix(file, ".up.sql"), "up"
	case strings.HasSuffix(file, ".down.sql"):
		return strings.TrimSuffix(file, ".down.sql"), "down"
	case strings.HasSuffix(file, ".yml"):
		return strings.TrimSuffix(file, ".yml"), "yaml"
	case strings.HasSuffix(file, ".yaml"):
		return strings.TrimSuffix(file, ".yaml"), "yaml"
	}
	return "", ""
}

func readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to read migration %s: %w", path, err)
	}
	if info.Size() > maxMigrationSize {
		return "", fmt.Errorf("%w: %s exceeds maximum size", ErrInvalidMigration, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read migration %s: %w", path, err)
	}
	return string(content), nil
}
