package archiverr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/archiverr/archiverr/filer"
	"github.com/archiverr/archiverr/status"
)

// These are the default directory and log file POSIX modes.
const (
	FileMode os.FileMode = 0o600
	DirMode  os.FileMode = 0o750
)

// DefaultMaxSize is only used when Every and FileSize Config
// struct members are omitted.
const DefaultMaxSize = 10 * 1024 * 1024

// openRetryInterval is how long to wait before retrying openLog after a failure.
// Prevents a storm of syscalls when the log file has permission or other persistent errors.
const openRetryInterval = 10 * time.Second

// Custom errors returned by this package.
var (
	ErrWriteTooLarge = errors.New("log msg length exceeds max file size")
	ErrNilPolicy     = errors.New("nil Policy interface provided")
)

// Config is the data needed to create a new log Writer.
type Config struct {
	Policy   Policy          // REQUIRED: rollover logic. Use your own or the window package.
	Filepath string          // Full path to log file. Set this, the default is lousy.
	FileMode os.FileMode     // POSIX mode for new files.
	DirMode  os.FileMode     // POSIX mode for new folders.
	Every    time.Duration   // Maximum log file age. Roll over every hour or day, etc.
	FileSize int64           // Maximum log file size in bytes. Default is unlimited (no rollover).
	Status   *status.Manager // Side channel for rollover failures. One is created if nil.
}

// Writer is what you get in return for providing a Config. Use this to set
// log output. You must obtain a Writer by calling one of the New() procedures.
type Writer struct {
	config      *Config       // incoming configuration.
	log         chan []byte   // incoming log messages passed across go routines.
	resp        chan *resp    // response sent back across go routines.
	signal      chan struct{} // used for Rollover and Close ops.
	size        int64         // the size of the active open file.
	created     time.Time     // the date the active open file was created.
	File        *os.File      // The active open file. Useful for direct writing.
	Policy      Policy        // copied from config for brevity.
	Status      *status.Manager
	filer.Filer             // overridable file system procedures.
	lastOpenErr error       // last error from openLog; used to avoid retry storm.
	lastOpened  time.Time   // when openLog was last attempted (for backoff).
}

// resp is used to send responses back across our go routines.
type resp struct {
	size int64
	err  error
}

// New takes in your configuration and returns a Writer you can use with
// log.SetOutput(). The provided writer handles rollovers and dispatches
// background archiving through the configured Policy.
func New(config *Config) (*Writer, error) {
	writer := &Writer{config: config, Policy: config.Policy, Status: config.Status, Filer: filer.Default()}

	err := writer.initialize(false)
	if err != nil {
		return nil, err
	}

	return writer, nil
}

// NewMust takes in your configuration and returns a Writer you can use with
// log.SetOutput(). If an error occurs opening the log file, making log
// directories, or rolling files over, it is ignored (and retried later).
// Do not pass a nil Policy.
func NewMust(config *Config) *Writer {
	writer := &Writer{config: config, Policy: config.Policy, Status: config.Status, Filer: filer.Default()}

	err := writer.initialize(true)
	if errors.Is(err, ErrNilPolicy) {
		panic(err)
	}

	return writer
}

// initialize runs all the startup routines.
func (w *Writer) initialize(ignoreErrors bool) error {
	var err error

	defer func() {
		if err == nil || ignoreErrors {
			w.log = make(chan []byte)
			w.resp = make(chan *resp)
			w.signal = make(chan struct{})

			go w.processLogChannel()
		}
	}()

	if w.Status == nil {
		w.Status = status.New()
	}

	if w.Policy == nil {
		err = ErrNilPolicy
	} else if err = w.setConfigDefaults(); err != nil {
		return err
	} else {
		err = w.checkAndRotate(0)
	}

	return err
}

// setConfigDefaults does exactly what it says. Sets missing values.
// This also starts the Policy, which recovers interrupted archive work.
func (w *Writer) setConfigDefaults() error {
	if w.config.Filepath == "" {
		w.config.Filepath = filepath.Join(os.TempDir(), filepath.Base(os.Args[0])+"-archiverr.log")
	}

	if w.config.Every == 0 && w.config.FileSize == 0 {
		w.config.FileSize = DefaultMaxSize
	}

	if w.config.DirMode == 0 {
		w.config.DirMode = DirMode
	}

	if w.config.FileMode == 0 {
		w.config.FileMode = FileMode
	}

	dirs, err := w.Policy.Start(w.config.Filepath)
	if err != nil {
		return fmt.Errorf("starting Policy: %w", err)
	}

	for _, dir := range dirs {
		err := w.MkdirAll(dir, w.config.DirMode)
		if err != nil {
			return fmt.Errorf("making directories for logfiles: %w", err)
		}
	}

	return nil
}

// processLogChannel runs in a go routine and reads the incoming logs channel.
// Received logs are dispatched to the write method. Replies are then sent to
// the response channel. This also handles rollovers and routine shutdown.
// Everything except the background compression happens in this one go routine.
func (w *Writer) processLogChannel() {
	for {
		select {
		case b := <-w.log:
			size, err := w.write(b)
			w.resp <- &resp{int64(size), err}
		case _, ok := <-w.signal:
			if !ok {
				w.signal = nil
				w.resp <- &resp{err: w.stop()}

				return
			}

			size, err := w.rotate()
			w.resp <- &resp{size, err}
		}
	}
}

// openLog opens the log file for writing.
// If the file exists, it is appended to. If it does not exist, it is created.
// Any necessary folders are also created.
func (w *Writer) openLog() error {
	err := w.MkdirAll(filepath.Dir(w.config.Filepath), w.config.DirMode)
	if err != nil {
		return fmt.Errorf("making directories for logfiles: %w", err)
	}

	perm := os.O_WRONLY | os.O_APPEND

	if info, err := w.Stat(w.config.Filepath); err != nil {
		// File doesn't exist, or something wrong, truncate it!
		perm = os.O_WRONLY | os.O_TRUNC | os.O_CREATE
		w.size = 0
		w.created = time.Now()
	} else {
		// File exists, append to it!
		w.size = info.Size()
		w.created = info.CreateTime
	}

	w.File, err = w.OpenFile(w.config.Filepath, perm, w.config.FileMode)
	if err != nil {
		return fmt.Errorf("error with new logfile: %w", err)
	}

	return nil
}

// Write sends data directly to the file. This satisfies the io.WriteCloser interface.
// You should generally not call this and instead pass *Writer into log.SetOutput().
func (w *Writer) Write(b []byte) (int, error) {
	w.log <- b
	resp := <-w.resp

	return int(resp.size), resp.err
}

// write sends a message into the log file after everything checks out - from a channel message.
func (w *Writer) write(b []byte) (int, error) {
	if err := w.checkAndRotate(int64(len(b))); err != nil {
		return 0, err
	}

	size, err := w.File.Write(b)
	w.size += int64(size)

	if err != nil {
		return size, fmt.Errorf("error writing log msg: %w", err)
	}

	return size, nil
}

// checkAndRotate gets the current file's size and creation time.
// Checks if it's too large or too old, and rolls it over if so.
// Makes sure the log file is open and ready for writing.
// When the log file cannot be opened (e.g. permission denied), retries are backed off
// to avoid a storm of syscalls that can cause high CPU and IO.
func (w *Writer) checkAndRotate(size int64) error {
	if w.File == nil {
		if w.lastOpenErr != nil && time.Since(w.lastOpened) < openRetryInterval {
			return w.lastOpenErr
		}

		w.lastOpened = time.Now()
		err := w.openLog()
		if err != nil {
			w.lastOpenErr = err

			return err
		}

		w.lastOpenErr = nil
	}

	if w.config.FileSize > 0 && size > w.config.FileSize {
		return fmt.Errorf("%w: %d>%d", ErrWriteTooLarge, size, w.config.FileSize)
	}

	if (w.config.FileSize != 0 && w.size+size > w.config.FileSize) ||
		(w.config.Every != 0 && time.Now().After(w.created.Add(w.config.Every))) {
		if _, err := w.rotate(); err != nil {
			return err
		}
	}

	return nil
}

// Rollover forces the log to roll over immediately. Returns the size of the rolled log.
func (w *Writer) Rollover() (int64, error) {
	w.signal <- struct{}{}
	resp := <-w.resp

	return resp.size, resp.err
}

// rotate hands the active log to the Policy - from a channel message.
// A Policy failure is reported and returned, but the fresh log file is
// opened regardless: archiving problems must not stop the application
// from logging.
func (w *Writer) rotate() (int64, error) {
	size := w.size

	if err := w.close(); err != nil {
		return size, err
	}

	rollErr := w.Policy.Rollover(w.config.Filepath)
	if rollErr != nil {
		rollErr = fmt.Errorf("error rolling over: %w", rollErr)
		w.Status.Errorf(rollErr, "rollover of %s failed", w.config.Filepath)
	}

	w.lastOpenErr = w.openLog()
	if w.lastOpenErr != nil {
		w.lastOpened = time.Now()

		return size, w.lastOpenErr
	}

	return size, rollErr
}

// Close stops the go routines, drains the Policy's background work, closes
// the active log file session and all channels.
// If another Write() is sent, a panic will ensue.
func (w *Writer) Close() error {
	defer close(w.resp)
	close(w.signal)

	return (<-w.resp).err
}

// close closes the active log file - from a channel message.
func (w *Writer) close() error {
	if w.File == nil {
		return nil
	}

	err := w.File.Close()
	w.File = nil

	if err != nil {
		return fmt.Errorf("closing log file %s: %w", w.config.Filepath, err)
	}

	return nil
}

// stop closes everything down, draining the Policy last so an in-flight
// compression gets its bounded chance to finish before the process exits.
func (w *Writer) stop() error {
	if w.log != nil {
		close(w.log)
	}

	w.log = nil

	return multierr.Append(w.close(), w.Policy.Stop())
}

// Our interface must satisfy an io.WriteCloser.
var _ io.WriteCloser = (*Writer)(nil)
