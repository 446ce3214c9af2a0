// Package archiverr is a log rollover module designed to plug directly
// into a standard go logger. It keeps a fixed window of indexed archive
// files and compresses rotated logs in the background, one job at a
// time, with crash recovery: a compression interrupted by a dying
// process is resumed on the next start.
//
// The New() methods return a simple io.WriteCloser that works with most
// log packages. Rollover behavior is pluggable through the Policy
// interface; the included window package implements the fixed-window
// policy with asynchronous gzip archiving.
//
// Failures inside the rollover path are reported on a status side
// channel (see the status package) instead of the application logger,
// and never stop the application from logging.
//
//	https://pkg.go.dev/github.com/archiverr/archiverr/window
//	https://pkg.go.dev/github.com/archiverr/archiverr/compressor
package archiverr
