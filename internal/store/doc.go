// Package store persists the bridge's two JSON documents.
//
// config.json is the user-authoritative entity configuration, replaced
// wholesale over HTTP. state.json is the derived state computed from
// wire observations, flushed coalesced (~200 ms after the last
// mutation). The two never mix: a failed config replace leaves state
// untouched, and a device poll never mutates the configuration.
//
// Every write goes through a sibling .tmp file and a rename, so a
// reader never observes a partial document.
package store
