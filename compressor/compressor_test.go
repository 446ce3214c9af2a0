package compressor_test

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiverr/archiverr/compressor"
	"github.com/archiverr/archiverr/filer"
	"github.com/archiverr/archiverr/status"
)

var errTest = fmt.Errorf("this is a test error")

// gatedFiler blocks gz-archive creation until the gate channel is closed.
// Used to keep a compression job in flight on purpose.
type gatedFiler struct {
	filer.File
	gate chan struct{}
}

func (f *gatedFiler) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	if strings.HasSuffix(name, compressor.SuffixGZ) {
		<-f.gate
	}

	return os.OpenFile(name, flag, perm)
}

// failFiler makes every gz-archive creation fail.
type failFiler struct {
	filer.File
}

func (f *failFiler) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	if strings.HasSuffix(name, compressor.SuffixGZ) {
		return nil, errTest
	}

	return os.OpenFile(name, flag, perm)
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o600))
}

func gunzip(t *testing.T, name string) string {
	t.Helper()

	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gzr.Close()

	content, err := io.ReadAll(gzr)
	require.NoError(t, err)

	return string(content)
}

func exists(name string) bool {
	_, err := os.Stat(name)

	return err == nil
}

func TestCompressRenamesBeforeReturn(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		active = filepath.Join(t.TempDir(), "app.log")
		dest   = active + ".1" + compressor.SuffixGZ
	)

	writeFile(t, active, "hello rollover")

	gzipper := compressor.New(&compressor.Config{ActiveFile: active})
	assert.Nil(gzipper.Compress(active, dest))
	// The source must be renamed away before Compress returns, even though
	// the compression itself may still be running.
	assert.False(exists(active), "the active file must be renamed away before Compress returns")

	assert.Nil(gzipper.WaitCompressed(compressor.DefaultTimeout))
	assert.False(exists(gzipper.Marker()), "the marker must be deleted after a successful job")
	assert.Equal("hello rollover", gunzip(t, dest))
}

func TestStartResumesInterruptedCompression(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		active = filepath.Join(t.TempDir(), "app.log")
		dest   = active + ".1" + compressor.SuffixGZ
	)

	statuses := status.New()
	gzipper := compressor.New(&compressor.Config{ActiveFile: active, Status: statuses})

	// A marker file on disk means a previous process died mid-compression.
	writeFile(t, gzipper.Marker(), "left behind by a crash")

	gzipper.Start(dest)
	assert.Nil(gzipper.WaitCompressed(compressor.DefaultTimeout))
	assert.False(exists(gzipper.Marker()), "the marker must be gone after the resumed job finishes")
	assert.Equal("left behind by a crash", gunzip(t, dest))

	// A second Start with no marker present is a no-op.
	gzipper.Start(dest)
	assert.Nil(gzipper.WaitCompressed(time.Second))
	assert.Equal("left behind by a crash", gunzip(t, dest))

	entries := statuses.Entries()
	assert.Len(entries, 2, "expected a resume warning and a completion entry")
	assert.Equal(status.Warn, entries[0].Level)
}

func TestFailureKeepsMarkerForRecovery(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		active = filepath.Join(t.TempDir(), "app.log")
		dest   = active + ".1" + compressor.SuffixGZ
	)

	writeFile(t, active, "do not lose me")

	statuses := status.New()
	gzipper := compressor.New(&compressor.Config{
		ActiveFile: active,
		Status:     statuses,
		Filer:      &failFiler{},
	})

	// The submission itself succeeds; the failure happens in the background.
	assert.Nil(gzipper.Compress(active, dest))

	err := gzipper.WaitCompressed(compressor.DefaultTimeout)
	assert.ErrorIs(err, errTest, "the job failure must surface from WaitCompressed")
	assert.True(exists(gzipper.Marker()), "the marker must be kept on failure, it is the recovery artifact")
	assert.False(exists(dest))

	entries := statuses.Entries()
	assert.NotEmpty(entries)
	assert.Equal(status.Error, entries[len(entries)-1].Level)

	// The next process start resumes the kept marker and completes it.
	recovered := compressor.New(&compressor.Config{ActiveFile: active})
	recovered.Start(dest)
	assert.Nil(recovered.WaitCompressed(compressor.DefaultTimeout))
	assert.False(exists(gzipper.Marker()))
	assert.Equal("do not lose me", gunzip(t, dest))
}

func TestWaitCompressedHonorsBound(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		active = filepath.Join(t.TempDir(), "app.log")
		dest   = active + ".1" + compressor.SuffixGZ
		gate   = make(chan struct{})
	)

	writeFile(t, active, "slow job")

	gzipper := compressor.New(&compressor.Config{ActiveFile: active, Filer: &gatedFiler{gate: gate}})
	assert.Nil(gzipper.Compress(active, dest))

	start := time.Now()
	err := gzipper.WaitCompressed(50 * time.Millisecond)
	assert.ErrorIs(err, compressor.ErrWaitTimeout)
	assert.Less(time.Since(start), time.Second, "the wait must give up at the bound, not hang")

	close(gate)
	assert.Nil(gzipper.WaitCompressed(compressor.DefaultTimeout))
	assert.Equal("slow job", gunzip(t, dest))
}

func TestAtMostOneJobInFlight(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		dir    = t.TempDir()
		active = filepath.Join(dir, "app.log")
		first  = active + ".1" + compressor.SuffixGZ
		second = filepath.Join(dir, "other.log")
		gate   = make(chan struct{})
	)

	writeFile(t, active, "first batch")
	writeFile(t, second, "second batch")

	gzipper := compressor.New(&compressor.Config{ActiveFile: active, Filer: &gatedFiler{gate: gate}})
	assert.Nil(gzipper.Compress(active, first))

	submitted := make(chan error, 1)

	go func() {
		submitted <- gzipper.Compress(second, first)
	}()

	// The second call must block draining the first job: its rename may
	// not happen while the first compression is still in flight.
	time.Sleep(100 * time.Millisecond)
	assert.True(exists(second), "the second source must not be renamed while the first job runs")

	close(gate)
	assert.Nil(<-submitted)
	assert.Nil(gzipper.WaitCompressed(compressor.DefaultTimeout))
	assert.False(exists(second))
	assert.Equal("second batch", gunzip(t, first))
}

func TestStopReportsDrainTimeout(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var (
		active = filepath.Join(t.TempDir(), "app.log")
		dest   = active + ".1" + compressor.SuffixGZ
		gate   = make(chan struct{})
	)

	writeFile(t, active, "still running at shutdown")

	statuses := status.New()
	gzipper := compressor.New(&compressor.Config{
		ActiveFile: active,
		Timeout:    50 * time.Millisecond,
		Status:     statuses,
		Filer:      &gatedFiler{gate: gate},
	})

	assert.Nil(gzipper.Compress(active, dest))
	assert.ErrorIs(gzipper.Stop(), compressor.ErrWaitTimeout)

	entries := statuses.Entries()
	assert.NotEmpty(entries)
	assert.Equal(status.Error, entries[len(entries)-1].Level)

	close(gate) // let the background job finish before the tempdir goes away.
	assert.Nil(gzipper.WaitCompressed(compressor.DefaultTimeout))
}

func TestCompressMissingSource(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	active := filepath.Join(t.TempDir(), "app.log")
	gzipper := compressor.New(&compressor.Config{ActiveFile: active})

	err := gzipper.Compress(active, active+".1"+compressor.SuffixGZ)
	assert.NotNil(err, "renaming a missing source must fail synchronously")
	assert.True(errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "renaming"))
}
