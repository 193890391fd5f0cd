package domain

import (
	"context"
)

// Assessor turns a validated patient record into an aggregation result
type Assessor interface {
	Assess(record PatientRecord) *AggregationResult
	AssessBatch(ctx context.Context, records []PatientRecord) ([]*AggregationResult, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	GetLoggingConfig() *LoggingConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
