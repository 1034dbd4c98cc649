// Package config provides configuration management for the job engine.
// Configuration is loaded from a YAML file, environment variables and
// command-line overrides, with precedence defaults < YAML file < environment < command line.
package config
