package telemetry

import (
	"errors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled bool
	// IncludeVariables puts bound query values into spans; they may contain
	// contract data, so it is off unless debugging locally
	IncludeVariables bool
	DBName           string
}

// RegisterDBTracing installs the otelgorm plugin plus an after-callback that
// marks failed statements on the span. ErrRecordNotFound is not an error here.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{}
	if cfg.DBName != "" {
		opts = append(opts, otelgorm.WithDBName(cfg.DBName))
	}
	if !cfg.IncludeVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	// run between gorm's statement and otelgorm's span end
	cb := db.Callback()
	registrations := []struct {
		register func(string, func(*gorm.DB)) error
		name     string
	}{
		{cb.Create().After("gorm:create").Before("otel:after_create").Register, "clm_trace:after_create"},
		{cb.Query().After("gorm:query").Before("otel:after_query").Register, "clm_trace:after_query"},
		{cb.Update().After("gorm:update").Before("otel:after_update").Register, "clm_trace:after_update"},
		{cb.Delete().After("gorm:delete").Before("otel:after_delete").Register, "clm_trace:after_delete"},
		{cb.Row().After("gorm:row").Before("otel:after_row").Register, "clm_trace:after_row"},
		{cb.Raw().After("gorm:raw").Before("otel:after_raw").Register, "clm_trace:after_raw"},
	}
	for _, r := range registrations {
		if err := r.register(r.name, markStatementSpan); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled", zap.Bool("include_variables", cfg.IncludeVariables))
	return nil
}

func markStatementSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
