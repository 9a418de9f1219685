// Package source loads migration units from a directory of SQL files:
// <version>_<name>.sql with an optional <version>_<name>.down.sql and an
// optional migrations.yaml manifest declaring classification and tables.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// ManifestFile is the optional manifest name inside a migration directory
const ManifestFile = "migrations.yaml"

var fileName = regexp.MustCompile(`^([0-9A-Za-z.\-]+?)_([^/]+?)(\.down)?\.sql$`)

// ManifestEntry declares the risk profile of one version. Critical is a
// pointer so an entry that only lists tables keeps the name heuristic.
type ManifestEntry struct {
	Critical       *bool    `yaml:"critical"`
	DataLossRisk   string   `yaml:"data_loss_risk"`
	AffectedTables []string `yaml:"affected_tables"`
}

// Manifest maps versions to their declared profile
type Manifest map[string]ManifestEntry

// Loader reads migration units from a filesystem
type Loader struct {
	fsys   fs.FS
	logger *zap.Logger
}

// NewLoader creates a loader reading dir from disk
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return NewFSLoader(os.DirFS(dir), logger)
}

// NewFSLoader creates a loader over fsys
func NewFSLoader(fsys fs.FS, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fsys: fsys, logger: logger}
}

type unitFiles struct {
	version string
	name    string
	up      string
	down    string
}

// Load returns every unit ordered by version. Versions compare numerically
// when both are integers and lexically otherwise.
func (l *Loader) Load() ([]entity.MigrationUnit, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	manifest, err := l.loadManifest()
	if err != nil {
		return nil, err
	}

	files := make(map[string]*unitFiles)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := fileName.FindStringSubmatch(e.Name())
		if m == nil {
			l.logger.Warn("Skipping migration file with unexpected name", zap.String("file", e.Name()))
			continue
		}
		version, name, down := m[1], m[2], m[3] != ""

		unit, ok := files[version]
		if !ok {
			unit = &unitFiles{version: version, name: name}
			files[version] = unit
		} else if unit.name != name {
			return nil, fmt.Errorf("version %s is used by %q and %q", version, unit.name, name)
		}
		if down {
			unit.down = e.Name()
		} else {
			unit.up = e.Name()
		}
	}

	units := make([]entity.MigrationUnit, 0, len(files))
	for _, f := range files {
		if f.up == "" {
			return nil, fmt.Errorf("version %s has a down script but no migration", f.version)
		}
		unit, err := l.buildUnit(f, manifest)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool {
		return entity.CompareVersions(units[i].Version, units[j].Version) < 0
	})

	for version := range manifest {
		if _, ok := files[version]; !ok {
			l.logger.Warn("Manifest declares an unknown version", zap.String("version", version))
		}
	}

	l.logger.Debug("Migration units loaded", zap.Int("units", len(units)))
	return units, nil
}

func (l *Loader) buildUnit(f *unitFiles, manifest Manifest) (entity.MigrationUnit, error) {
	up, err := fs.ReadFile(l.fsys, f.up)
	if err != nil {
		return entity.MigrationUnit{}, fmt.Errorf("failed to read %s: %w", f.up, err)
	}
	statements := SplitStatements(string(up))
	if len(statements) == 0 {
		return entity.MigrationUnit{}, fmt.Errorf("%s contains no statements", f.up)
	}

	unit := entity.MigrationUnit{
		Version:    f.version,
		Name:       f.name,
		Statements: statements,
	}
	if f.down != "" {
		down, err := fs.ReadFile(l.fsys, f.down)
		if err != nil {
			return entity.MigrationUnit{}, fmt.Errorf("failed to read %s: %w", f.down, err)
		}
		unit.Down = SplitStatements(string(down))
	}

	entry, declared := manifest[f.version]
	if declared && len(entry.AffectedTables) > 0 {
		unit.AffectedTables = append([]string(nil), entry.AffectedTables...)
	} else {
		unit.AffectedTables = ExtractTables(statements)
	}
	if declared && (entry.Critical != nil || entry.DataLossRisk != "") {
		heuristic := entity.ClassifyByName(f.name)
		classification := entity.UnitClassification{
			Critical:     heuristic.Critical,
			DataLossRisk: entity.ParseDataLossRisk(entry.DataLossRisk),
		}
		if entry.Critical != nil {
			classification.Critical = *entry.Critical
		}
		unit.Classification = &classification
	}
	return unit, nil
}

func (l *Loader) loadManifest() (Manifest, error) {
	data, err := fs.ReadFile(l.fsys, ManifestFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}

	manifest := Manifest{}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}
	return manifest, nil
}

// Describe renders a one-line summary of a unit for listings
func Describe(unit entity.MigrationUnit) string {
	c := unit.Classify()
	return fmt.Sprintf("%s_%s (%d statements, critical=%t, data_loss_risk=%s, tables=%s)",
		unit.Version, unit.Name, len(unit.Statements), c.Critical, c.DataLossRisk,
		strings.Join(unit.AffectedTables, ","))
}
