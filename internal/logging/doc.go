// Package logging builds the slog loggers used across EchoWatch and
// defines the standardized structured field names. It offers a terse
// console handler for interactive use and a JSON handler for machine
// consumption, selected by configuration.
package logging
