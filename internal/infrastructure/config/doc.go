// Package config loads the process-level configuration of the bridge
// from YAML with environment variable overrides.
//
// It covers operator concerns only (listener, data directory, database,
// MQTT, logging). The entity document served and replaced over
// /api/config lives in internal/entity and internal/store.
package config
