package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func sqlFn() (string, int64) { return "SELECT * FROM integrations", 3 }

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		begin     time.Time
		err       error
		wantCount int
		wantMsg   string
	}{
		{"silent", gormlogger.Silent, time.Now(), errors.New("x"), 0, ""},
		{"error", gormlogger.Error, time.Now(), errors.New("db down"), 1, "SQL Error"},
		{"record not found ignored", gormlogger.Error, time.Now(), gormlogger.ErrRecordNotFound, 0, ""},
		{"slow", gormlogger.Warn, time.Now().Add(-time.Second), nil, 1, "Slow SQL"},
		{"fast at warn", gormlogger.Warn, time.Now(), nil, 0, ""},
		{"query at info", gormlogger.Info, time.Now(), nil, 1, "SQL Query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			gl := NewGormLogger(zap.New(core), tt.level)
			gl.Trace(WithOperationID(context.Background(), "op-1"), tt.begin, sqlFn, tt.err)

			require.Equal(t, tt.wantCount, logs.Len())
			if tt.wantCount > 0 {
				entry := logs.All()[0]
				assert.Equal(t, tt.wantMsg, entry.Message)
				assert.Equal(t, "op-1", entry.ContextMap()["sync_operation_id"])
				assert.Equal(t, "gorm", entry.LoggerName)
			}
		})
	}
}

func TestGormLogger_LogModeCopies(t *testing.T) {
	gl := NewGormLogger(zap.NewNop(), gormlogger.Warn, WithSlowThreshold(time.Second), WithIgnoreRecordNotFoundError(false))
	other := gl.LogMode(gormlogger.Info).(*GormLogger)
	assert.Equal(t, gormlogger.Warn, gl.logLevel)
	assert.Equal(t, gormlogger.Info, other.logLevel)
	assert.Equal(t, time.Second, other.slowThreshold)
	assert.False(t, other.ignoreRecordNotFoundError)
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
}
