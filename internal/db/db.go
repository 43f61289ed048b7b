// Package db holds the history schema and opens the SQLite database.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	Peer      string `gorm:"index"`
	Direction string
	Text      string
	CreatedAt int64
}

type Transfer struct {
	ID uint `gorm:"primaryKey"`
	// PayloadID is kept as text; SQLite integers are signed.
	PayloadID string `gorm:"index"`
	Peer      string `gorm:"index"`
	Direction string
	Path      string
	Size      int64
	Error     string
	CreatedAt int64
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; an in-memory database also lives on a
	// single connection.
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&Message{}, &Transfer{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return gdb, nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
