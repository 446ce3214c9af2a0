// Package compressor archives rotated log files in the background.
//
// A Compressor owns at most one in-flight gzip job. Submitting a new job
// first drains the previous one, so compressions never overlap and disk
// usage stays bounded. Before a job starts, the source file is renamed to
// a deterministic marker name (<activeFile>.compressing); the marker is
// deleted only when compression succeeds. A marker found at startup means
// a previous process died mid-compression, and Start resumes it.
package compressor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/archiverr/archiverr/filer"
	"github.com/archiverr/archiverr/status"
)

// Suffixes used to build archive and marker file names.
const (
	SuffixGZ          = ".gz"          // appended to a fileName to make the compressed file name.
	SuffixCompressing = ".compressing" // marks a file whose compression is in progress.
)

// DefaultTimeout bounds how long callers wait for an in-flight job.
const DefaultTimeout = 30 * time.Second

// CompressLevel sets the global compression level.
var CompressLevel = gzip.DefaultCompression //nolint:gochecknoglobals

// ErrWaitTimeout is returned when an in-flight job does not finish within
// the wait bound. The job keeps running; only the wait gives up.
var ErrWaitTimeout = errors.New("timed out waiting for compression")

// Config is the data needed to create a new Compressor.
type Config struct {
	ActiveFile string          // REQUIRED: path of the live log file; the marker name derives from it.
	Timeout    time.Duration   // Wait bound for WaitCompressed and Stop. Default: DefaultTimeout.
	Status     *status.Manager // Failure side channel. May be nil.
	Filer      filer.Filer     // Overridable file system procedures.
}

// Report describes one finished compression job.
// Always check Error to make sure the New* data is valid.
type Report struct {
	OldFile string
	NewFile string
	OldSize int64
	NewSize int64
	Elapsed time.Duration
	Error   error
}

// Compressor runs gzip jobs off the rollover thread, one at a time.
// The job reference is mutex-guarded, but the design assumes a single
// rollover driver: concurrent Compress calls serialize on the drain, not
// on the rename.
type Compressor struct {
	marker  string
	timeout time.Duration
	status  *status.Manager
	filer.Filer

	mu  sync.Mutex
	job *job
}

// job is the handle for one in-flight compression.
type job struct {
	src  string
	dst  string
	done chan struct{}
	err  error // valid once done is closed.
}

// New returns a Compressor for the given active log file.
func New(config *Config) *Compressor {
	compressor := &Compressor{
		marker:  config.ActiveFile + SuffixCompressing,
		timeout: config.Timeout,
		status:  config.Status,
		Filer:   config.Filer,
	}

	if compressor.timeout <= 0 {
		compressor.timeout = DefaultTimeout
	}

	if compressor.Filer == nil {
		compressor.Filer = filer.Default()
	}

	return compressor
}

// Marker returns the deterministic marker file name.
func (c *Compressor) Marker() string {
	return c.marker
}

// Start checks for a marker file left behind by a process that died
// mid-compression and resumes it as a background job into destFile (the
// most recent archive slot). Startup is never blocked: the resumed job
// runs in the background and the next Compress call drains it first.
// Without a marker on disk this is a no-op.
func (c *Compressor) Start(destFile string) {
	if _, err := c.Stat(c.marker); err != nil {
		return
	}

	c.status.Warnf("found interrupted compression %s, resuming into %s", c.marker, destFile)
	c.submit(c.marker, destFile)
}

// Compress renames fileName to the marker name and submits a background
// job compressing it into destFile. Any previous job is drained first, so
// at most one compression is in flight. When Compress returns nil,
// fileName no longer exists even though the compression may still be
// running. A drain timeout or prior-job failure is returned as an error
// and fileName is left untouched.
func (c *Compressor) Compress(fileName, destFile string) error {
	if err := c.WaitCompressed(c.timeout); err != nil {
		return err
	}

	// The drain above should make this unreachable, but an orphaned
	// marker from an unrelated crash must not break the rename.
	if _, err := c.Stat(c.marker); err == nil {
		c.status.Warnf("deleting stale marker file %s", c.marker)

		if err := c.Remove(c.marker); err != nil {
			return fmt.Errorf("removing stale marker file: %w", err)
		}
	}

	if err := c.Rename(fileName, c.marker); err != nil {
		return fmt.Errorf("renaming %s for compression: %w", fileName, err)
	}

	c.submit(c.marker, destFile)

	return nil
}

// WaitCompressed blocks until the tracked job (if any) finishes, up to
// timeout. A job failure comes back wrapped; a timeout comes back as
// ErrWaitTimeout while the job keeps running.
func (c *Compressor) WaitCompressed(timeout time.Duration) error {
	c.mu.Lock()
	current := c.job
	c.mu.Unlock()

	if current == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-current.done:
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, current.src, timeout)
	}

	c.mu.Lock()
	if c.job == current {
		c.job = nil
	}
	c.mu.Unlock()

	if current.err != nil {
		return fmt.Errorf("compressing %s: %w", current.src, current.err)
	}

	return nil
}

// Stop drains the tracked job before shutdown, bounded by the configured
// timeout. The error is reported and returned; shutdown should proceed
// regardless, the marker file makes the next Start finish the work.
func (c *Compressor) Stop() error {
	err := c.WaitCompressed(c.timeout)
	if err != nil {
		c.status.Errorf(err, "draining compression on shutdown")
	}

	return err
}

// submit registers and launches a background job. The caller must have
// drained any previous job.
func (c *Compressor) submit(src, dst string) {
	next := &job{src: src, dst: dst, done: make(chan struct{})}

	c.mu.Lock()
	c.job = next
	c.mu.Unlock()

	go func() {
		defer close(next.done)

		report := c.run(src, dst)
		next.err = report.Error

		if report.Error != nil {
			c.status.Errorf(report.Error, "compression of %s failed after %v, file kept for recovery",
				src, report.Elapsed.Round(time.Millisecond))

			return
		}

		const kilobyte = 1024

		c.status.Infof("compressed %s/%dkB -> %s/%dkB in %v", report.OldFile, report.OldSize/kilobyte,
			report.NewFile, report.NewSize/kilobyte, report.Elapsed.Round(time.Millisecond))
	}()
}

// run compresses src into dst and fills in a report. Runs on the job
// goroutine; it must not touch c.job.
func (c *Compressor) run(src, dst string) *Report {
	report := &Report{OldFile: src, NewFile: dst}

	level := CompressLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	info, err := c.Stat(src)
	if report.Error = err; report.Error != nil {
		report.Error = fmt.Errorf("stating source file: %w", err)

		return report
	}

	report.OldSize = info.Size()
	start := time.Now()
	report.NewSize, report.Error = c.gzip(src, dst, info.Mode(), level)
	report.Elapsed = time.Since(start)

	return report
}

// gzip does the hard work: open the source, create the archive, stream
// through a gzip writer. On success the source (marker) file is removed;
// on failure the half-written archive is removed and the source is kept
// as the recovery artifact.
func (c *Compressor) gzip(src, dst string, mode os.FileMode, level int) (size int64, err error) {
	var srf, gzf *os.File

	defer func() { // First, so it executes last.
		if err != nil {
			_ = c.Remove(dst)
		} else {
			_ = c.Remove(src)
		}
	}()

	srf, err = c.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("opening source file: %w", err)
	}
	defer srf.Close()

	gzf, err = c.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("opening gz file: %w", err)
	}

	defer func() {
		gzf.Close()
		// Set size of new file.
		if fs, serr := c.Stat(dst); serr == nil {
			size = fs.Size()
		}
	}()

	gzw, _ := gzip.NewWriterLevel(gzf, level)
	defer gzw.Close()

	_, err = io.Copy(gzw, srf)
	if err != nil {
		return size, fmt.Errorf("%s -> %s: %w", src, dst, err)
	}

	if err = gzw.Close(); err != nil {
		return size, fmt.Errorf("finishing %s: %w", dst, err)
	}

	return size, nil
}
