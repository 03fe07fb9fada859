// Package common provides shared constants, types, and utilities
// used across the Tunnel Manager application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "Tunnel Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "tunnel-manager"
)

// File names used by the application.
const (
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
	LogFileName     = "tunnel-manager.log"
)

// Default timeouts and intervals.
const (
	// ConnectTimeout is the maximum time to wait for a tunnel tool to print
	// its public URL before the attempt is abandoned.
	ConnectTimeout = 10 * time.Second
	// DisconnectGrace is how long a tunnel process gets to exit after a
	// termination signal before it is force-killed.
	DisconnectGrace = 3 * time.Second
	// WatchInterval is how often the status watcher re-polls providers.
	WatchInterval = 15 * time.Second
	// ProbeTimeout bounds a single external agent status query.
	ProbeTimeout = 5 * time.Second
)
