package main

import (
	"io"

	"github.com/180945/btcrelay/node"
	"github.com/180945/btcrelay/node/store"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btclog"
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
// They are created by initLogging once the output writer is known.
var subsystemLoggers = map[string]btclog.Logger{}

var btrlLog = btclog.Disabled

// initLogging creates one backend writing to w and hands a logger for each
// subsystem to its package.
func initLogging(w io.Writer, logLevel string) {
	backend := btclog.NewBackend(w)

	btrlLog = backend.Logger("BTRL")
	subsystemLoggers = map[string]btclog.Logger{
		"BTRL":          btrlLog,
		relay.Subsystem: backend.Logger(relay.Subsystem),
		store.Subsystem: backend.Logger(store.Subsystem),
		node.Subsystem:  backend.Logger(node.Subsystem),
	}
	relay.UseLogger(subsystemLoggers[relay.Subsystem])
	store.UseLogger(subsystemLoggers[store.Subsystem])
	node.UseLogger(subsystemLoggers[node.Subsystem])

	setLogLevels(logLevel)
}

// setLogLevels sets the log level for all subsystem loggers. An invalid level
// defaults to info.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
