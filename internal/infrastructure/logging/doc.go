// Package logging builds the slog logger shared by every component.
//
// Output is JSON (or text, for a developer terminal) on stdout, stderr or
// a lumberjack-rotated file, so a long-running box does not fill its SD
// card. Each record carries service and version.
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
package logging
