// Package mqtt implements the optional state publisher.
//
// When enabled, the bridge mirrors board snapshots and derived entity
// states onto retained MQTT topics so home-automation engines can
// follow the bus without polling the HTTP API. Publish failures are
// logged and ignored. A publish waits for the broker's acknowledgement
// up to the publish timeout, and the state update that triggered it
// waits with it, so a slow broker delays the command behind the update.
package mqtt
