// Package migrate 提供数据库自动迁移功能 (基于 golang-migrate)
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator 迁移器
type Migrator struct {
	db          *sql.DB
	logger      *zap.Logger
	serviceName string
	fsys        fs.FS
	path        string
}

// NewMigrator 创建迁移器
// fsys 通常是 embed.FS，path 是其中迁移文件目录，如 "migrations"
func NewMigrator(db *sql.DB, serviceName string, fsys fs.FS, path string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		db:          db,
		logger:      logger,
		serviceName: serviceName,
		fsys:        fsys,
		path:        path,
	}
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	source, err := iofs.New(m.fsys, m.path)
	if err != nil {
		return nil, fmt.Errorf("create migration source failed: %w", err)
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: "p2p_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver failed: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator failed: %w", err)
	}
	return migrator, nil
}

// Up 执行全部未应用的迁移
func (m *Migrator) Up() error {
	m.logger.Info("starting auto migration",
		zap.String("service", m.serviceName),
		zap.String("path", m.path))

	migrator, err := m.open()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("no new migrations to apply", zap.String("service", m.serviceName))
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return m.logVersion(migrator, "auto migration completed")
}

// Rollback 回滚一个版本
func (m *Migrator) Rollback() error {
	migrator, err := m.open()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("no migrations to rollback", zap.String("service", m.serviceName))
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}
	return m.logVersion(migrator, "rollback completed")
}

// Version 当前迁移版本
func (m *Migrator) Version() (uint, bool, error) {
	migrator, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *Migrator) logVersion(migrator *migrate.Migrate, msg string) error {
	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("get migration version failed: %w", err)
	}
	m.logger.Info(msg,
		zap.String("service", m.serviceName),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
