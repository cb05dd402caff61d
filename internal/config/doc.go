// Package config loads and validates the watcher's YAML configuration.
//
// Loading is layered: Load parses the file with ${VAR} environment
// expansion, LoadWithDefaults fills optional fields, LoadAndValidate
// checks required ones.
package config
