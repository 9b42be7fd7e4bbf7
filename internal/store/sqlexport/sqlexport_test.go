package sqlexport

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/amois3/matrixwatcher/internal/store"
)

func newMockExporter(t *testing.T) (*Exporter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &Exporter{db: gormDB}, mock
}

func TestExporter_Mirror(t *testing.T) {
	exporter, mock := newMockExporter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `sensor_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := exporter.Mirror(store.Record{
		"timestamp": 100.0,
		"source":    "crypto",
		"data":      map[string]any{"btcusdt.price": 50000.0},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExporter_MirrorBatch_ContinuesPastFailure(t *testing.T) {
	exporter, mock := newMockExporter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `sensor_records`").
		WillReturnError(gorm.ErrInvalidData)
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `sensor_records`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	records := []store.Record{
		{"timestamp": 1.0, "source": "earthquake"},
		{"timestamp": 2.0, "source": "earthquake"},
	}
	mirrored, err := exporter.MirrorBatch(records)
	require.Error(t, err)
	require.Equal(t, 1, mirrored)
}

func TestRecordRow_TableName(t *testing.T) {
	require.Equal(t, "sensor_records", RecordRow{}.TableName())
}
