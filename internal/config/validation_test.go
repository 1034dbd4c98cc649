package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(err error) []string {
	var fields []string
	if errs, ok := err.(ValidationErrors); ok {
		for _, e := range errs {
			fields = append(fields, e.Field)
		}
	}
	return fields
}

func TestValidateBrokers(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"redis url", "redis://localhost:6379/0", true},
		{"tls redis url", "rediss://cache.example.com:6380", true},
		{"memory", "memory://local", true},
		{"host port", "broker:6379", true},
		{"empty", "", false},
		{"unknown scheme", "amqp://localhost:5672", false},
		{"memory without name", "memory://", false},
		{"missing port", "localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Brokers = []BrokerConfig{{Address: tt.address}}
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, fieldsOf(err), "brokers[0].address")
			}
		})
	}
}

func TestValidateRejectsSeveralBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = []BrokerConfig{{Address: "memory://a"}, {Address: "memory://b"}}
	assert.Contains(t, fieldsOf(cfg.Validate()), "brokers")
}

func TestValidateServices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.Services = []ServiceConfig{
		{Name: "a", Worker: "sleep", Concurrency: 1},
		{Name: "a", Worker: "sleep", Concurrency: 1},
		{Name: "", Worker: "", Concurrency: 0},
	}

	fields := fieldsOf(cfg.Validate())
	assert.Contains(t, fields, "daemon.services[1].name")
	assert.Contains(t, fields, "daemon.services[2].name")
	assert.Contains(t, fields, "daemon.services[2].worker")
	assert.Contains(t, fields, "daemon.services[2].concurrency")
	assert.NotContains(t, fields, "daemon.services[0].name")
}

func TestValidateFileRoots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.FileRoots = map[string]string{"bad:name": "/x", "empty": ""}

	fields := fieldsOf(cfg.Validate())
	assert.Contains(t, fields, "daemon.file_roots")
	assert.Contains(t, fields, "daemon.file_roots.empty")
}

func TestValidateCacheAndLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache = CacheConfig{Enabled: true}
	cfg.Logging.Level = "verbose"
	cfg.Logging.Format = "xml"
	cfg.Logging.Output = "file"
	cfg.Daemon.StatusAddress = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	fields := fieldsOf(err)
	assert.ElementsMatch(t, []string{
		"cache.dir", "logging.level", "logging.format", "logging.file_path", "daemon.status_address",
	}, fields)
}
