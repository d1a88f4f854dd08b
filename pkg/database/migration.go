package database

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

var migrationFile = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// migrateLogger adapts ectologger to migrate.Logger
type migrateLogger struct {
	ectologger.Logger
}

func (l migrateLogger) Verbose() bool {
	return false
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

// MigrationConfig controls a migration run
type MigrationConfig struct {
	// Folder holds NNNNNN_name.up.sql / .down.sql pairs
	Folder string
	// Version migrates to an exact version instead of the latest
	Version uint
	// Force marks the schema clean at this version before migrating
	Force int
	// AutoRollback forces a dirty schema back to the version it started at after a failure
	AutoRollback bool
}

type MigrationService struct {
	config MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// folder resolves the configured folder against the working directory
func (ms *MigrationService) folder() (string, error) {
	dir := ms.config.Folder
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "resolve working directory")
		}
		dir = filepath.Join(wd, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", errors.Wrapf(err, "migration folder %s does not exist", dir)
	}
	return dir, nil
}

// MigratePostgres applies the migrations to the database behind db
func (ms *MigrationService) MigratePostgres(db DB) error {
	driver, err := postgres.WithInstance(db.Raw(), &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "create postgres migration driver")
	}
	return ms.Migrate("postgres", driver)
}

// Migrate applies the migrations through an already opened driver
func (ms *MigrationService) Migrate(databaseName string, driver migratedb.Driver) error {
	dir, err := ms.folder()
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return errors.Wrap(err, "create migrate instance")
	}
	m.Log = migrateLogger{Logger: ms.logger}

	return ms.run(m, dir)
}

func (ms *MigrationService) run(m *migrate.Migrate, dir string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "force schema to version %d", ms.config.Force)
		}
	}

	startVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Warn("Failed to read current migration version")
	}

	started := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.WithField("elapsed", time.Since(started).String()).Info("Database migrations finished")

	return ms.handleError(m, err, startVersion, dir)
}

func (ms *MigrationService) handleError(m *migrate.Migrate, err error, startVersion uint, dir string) error {
	switch {
	case err == nil:
		ms.logger.Info("Successfully applied migrations")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("No new migrations to apply")
		return nil
	case strings.Contains(err.Error(), "no migration found for version"):
		// the schema is ahead of this binary, usually after a rollback deploy
		latest, lerr := latestVersion(dir)
		if lerr != nil {
			return errors.Wrap(lerr, "find latest migration")
		}
		ms.logger.Warnf("No migration found for version %d, forcing schema to %d", startVersion, latest)
		return errors.Wrapf(m.Force(latest), "force schema to version %d", latest)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		ms.logger.WithError(verr).Error("Failed to read migration version after failure")
		return errors.Wrap(err, "apply migrations")
	}
	ms.logger.WithError(err).Errorf("Failed to apply migrations, schema dirty=%t at version %d", dirty, version)

	if ms.config.AutoRollback && dirty {
		target := startVersion
		if target == 0 && version > 0 {
			target = version - 1
		}
		ms.logger.Warnf("Forcing dirty schema back to version %d", target)
		if ferr := m.Force(int(target)); ferr != nil {
			return errors.Wrapf(ferr, "force schema to version %d", target)
		}
	}
	// a rolled back schema still fails startup
	return errors.Wrap(err, "apply migrations")
}

func latestVersion(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(file.Name())
		if len(matches) < 2 {
			continue
		}
		v, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return 0, errors.New("no migration files found")
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
