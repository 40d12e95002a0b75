package config

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
)

// ServiceConfig is the part of a service configuration that concerns context fields.
//
//	fields:
//	  file: ./cmd/config/fields.yaml
//	  normalizeHeaders: true
//	  maxBodyBytes: 65536
type ServiceConfig struct {
	Fields FieldsConfig `mapstructure:"fields"`
}

// FieldsConfig points at the field document and overrides its settings. Zero values keep the
// settings of the document.
type FieldsConfig struct {
	File                  string `mapstructure:"file"`
	NormalizeHeaders      *bool  `mapstructure:"normalizeHeaders"`
	MaxBodyBytes          int64  `mapstructure:"maxBodyBytes"`
	MetricsMaxCardinality string `mapstructure:"metricsMaxCardinality"`
}

// LoadFields reads and validates the field document at path.
func LoadFields(path string) (*fields.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read field configuration %s", path)
	}
	cfg, err := fields.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "field configuration %s", path)
	}
	return cfg, nil
}

// Load reads the referenced field document and applies the overrides.
func (c FieldsConfig) Load(log *logger.Logger) (*fields.Config, error) {
	if c.File == "" {
		return nil, errors.Wrap(fields.ErrInvalidConfig, "fields.file is not set")
	}
	cfg, err := LoadFields(c.File)
	if err != nil {
		return nil, err
	}

	settings := cfg.Settings()
	if c.NormalizeHeaders != nil {
		settings.NormalizeHeaders = *c.NormalizeHeaders
	}
	if c.MaxBodyBytes > 0 {
		settings.MaxBodyBytes = c.MaxBodyBytes
	}
	if c.MetricsMaxCardinality != "" {
		var card fields.Cardinality
		if err := card.UnmarshalText([]byte(c.MetricsMaxCardinality)); err != nil {
			return nil, errors.Wrap(err, "fields.metricsMaxCardinality")
		}
		settings.MetricsMaxCardinality = card
	}
	if cfg, err = fields.New(cfg.Fields(), settings); err != nil {
		return nil, err
	}

	for _, w := range cfg.Warnings() {
		log.Warn("field configuration warning", logger.String("warning", w))
	}
	log.Info("Loaded field configuration",
		logger.String("path", c.File),
		logger.Strings("fields", cfg.Names()),
	)
	return cfg, nil
}
