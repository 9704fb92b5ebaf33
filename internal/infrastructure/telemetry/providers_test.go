package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/contractiq/backend/internal/infrastructure/telemetry"
)

func TestProviders_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	cfg := telemetry.Config{Enabled: false, ServiceName: "clm-sync-test", CollectorEndpoint: "localhost:4317"}

	tp, err := telemetry.NewTracerProvider(ctx, cfg, logger)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NoError(t, tp.Shutdown(ctx))

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false, ServiceName: "clm-sync-test"}, logger)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("x"))
	assert.NoError(t, mp.Shutdown(ctx))

	lp, err := telemetry.NewLoggerProvider(ctx, cfg, logger)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	core := lp.ZapCore(zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "ParentBased{root:AlwaysOnSampler"},
		{1.5, "ParentBased{root:AlwaysOnSampler"},
		{0, "ParentBased{root:AlwaysOffSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		assert.Contains(t, telemetry.Sampler(tt.ratio).Description(), tt.want)
	}
}

func TestRegisterDBTracing(t *testing.T) {
	sr := setupTestTracer(t)
	logger := zaptest.NewLogger(t)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	type widget struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&widget{}))

	t.Run("disabled registers nothing", func(t *testing.T) {
		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{Enabled: false}, logger))
		require.NoError(t, db.Create(&widget{Name: "a"}).Error)
		assert.Empty(t, sr.Ended())
	})

	t.Run("enabled traces statements", func(t *testing.T) {
		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{Enabled: true, DBName: "clm"}, logger))

		ctx, parent := telemetry.StartSpan(context.Background(), "repo")
		var got widget
		require.NoError(t, db.WithContext(ctx).First(&got).Error)
		parent.End()

		var dbSpans []sdktrace.ReadOnlySpan
		for _, s := range sr.Ended() {
			if s.Name() != "repo" {
				dbSpans = append(dbSpans, s)
			}
		}
		require.NotEmpty(t, dbSpans)
		v, ok := attrValue(dbSpans[0].Attributes(), "db.sql.table")
		require.True(t, ok)
		assert.Equal(t, "widgets", v.AsString())
	})
}
