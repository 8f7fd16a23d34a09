// Package db holds the persistence models and database bootstrap.
package db

import (
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the sqlite database at path and runs migrations.
// Use ":memory:" for tests.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite database %s", path)
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&User{},
		&Thread{},
		&ChatMessage{},
		&Run{},
		&RunStep{},
		&Project{},
	)
	return errors.Wrap(err, "auto migrate")
}
