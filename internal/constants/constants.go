// Package constants is responsible for defining the constants used in the application.
package constants

import "log/slog"

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the service command.
	CmdName = "cartwatch"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Service constants.
const (
	// DefaultTable is the table abandoned cart events are inserted into.
	DefaultTable = "abandoned_cart_events"

	// CartEventPath is the route receiving abandoned cart events.
	CartEventPath = "/events/abandoned-cart"

	// DefaultMaxBodyBytes is the largest accepted event payload.
	DefaultMaxBodyBytes = 1 << 20
)
