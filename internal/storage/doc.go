// Package storage is the bot's key/value config store.
//
// Values are JSON documents addressed by a namespace (global, guild or user
// scope plus an id) and a key path. Operator actions go to an audit log.
package storage
