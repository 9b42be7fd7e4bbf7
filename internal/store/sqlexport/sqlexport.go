// Package sqlexport mirrors C9 JSONL records into a relational table for
// offline analysis, grounded on
// ChoSanghyuk-blackholedex/internal/db.MySQLRecorder's
// gorm.Open/AutoMigrate/Create pattern. It answers spec §4.9's "input for
// offline analysis" line and the original's dropped
// storage/export.py/parquet_export.py tooling — a SQL table a BI tool can
// query directly, as an alternative to replaying JSONL files.
package sqlexport

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
	"github.com/amois3/matrixwatcher/internal/store"
)

// RecordRow is the relational mirror of one store.Record (§4.9).
type RecordRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Source    string    `gorm:"index;not null"`
	Timestamp float64   `gorm:"index;not null"`
	Payload   string    `gorm:"type:text;not null"` // JSON-encoded full record
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RecordRow) TableName() string { return "sensor_records" }

// Exporter mirrors store.Record values into a MySQL table via GORM.
type Exporter struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the sensor_records table.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func Open(dsn string) (*Exporter, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("sqlexport: connect: %w", err)
	}
	if err := db.AutoMigrate(&RecordRow{}); err != nil {
		return nil, fmt.Errorf("sqlexport: migrate: %w", err)
	}
	return &Exporter{db: db}, nil
}

// Mirror writes one store.Record into the relational table.
func (e *Exporter) Mirror(rec store.Record) error {
	source, _ := rec["source"].(string)
	ts, _ := rec["timestamp"].(float64)

	payload, err := jsonutil.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlexport: marshal record: %w", err)
	}

	row := RecordRow{Source: source, Timestamp: ts, Payload: string(payload)}
	if result := e.db.Create(&row); result.Error != nil {
		return fmt.Errorf("sqlexport: insert record: %w", result.Error)
	}
	return nil
}

// MirrorBatch mirrors every record read from a store.Read call, continuing
// past individual insert failures and returning the count mirrored plus the
// first error encountered (if any), mirroring C9's own "one bad record does
// not stop the rest" tolerance.
func (e *Exporter) MirrorBatch(records []store.Record) (int, error) {
	mirrored := 0
	var firstErr error
	for _, rec := range records {
		if err := e.Mirror(rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		mirrored++
	}
	return mirrored, firstErr
}

// GetDB returns the underlying GORM handle for ad-hoc analysis queries.
func (e *Exporter) GetDB() *gorm.DB { return e.db }

// Close releases the underlying connection pool.
func (e *Exporter) Close() error {
	db, err := e.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
