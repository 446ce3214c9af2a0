package archiverr

//go:generate mockgen -destination=mocks/policy.go -package=mocks github.com/archiverr/archiverr Policy

// Policy allows passing in your own logic for file rollover and
// archiving. A working Policy is included in the window package.
// Use it directly, or extend it with your own methods and interface.
type Policy interface {
	// Start is called once on startup. This should validate the
	// configuration, recover any unfinished archive work from a prior
	// run, and return a list of directories to create.
	Start(fileName string) (dirPaths []string, err error)

	// Rollover is called with the just-closed log file any time it must
	// be archived. This blocks logging, so long work like compression
	// should run in the background; when Rollover returns, fileName must
	// no longer exist so a fresh file can be opened in its place.
	Rollover(fileName string) error

	// Stop is called during shutdown. It should drain background work
	// within a bounded time and report how that went.
	Stop() error
}
