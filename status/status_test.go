package status_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archiverr/archiverr/status"
)

var errTest = fmt.Errorf("this is a test error")

func TestManager(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	statuses := status.New()
	statuses.Infof("started %s", "fine")
	statuses.Warnf("something odd")
	statuses.Errorf(errTest, "something broke")

	entries := statuses.Entries()
	assert.Len(entries, 3)
	assert.Equal(status.Info, entries[0].Level)
	assert.Equal("started fine", entries[0].Message)
	assert.Equal(status.Warn, entries[1].Level)
	assert.Equal(status.Error, entries[2].Level)
	assert.ErrorIs(entries[2].Err, errTest)

	buf := bytes.Buffer{}
	statuses.Print(&buf)
	assert.Contains(buf.String(), "WARN  something odd")
	assert.Contains(buf.String(), "something broke: this is a test error")
}

func TestManagerBound(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	statuses := &status.Manager{Keep: 3}
	for i := 0; i < 10; i++ {
		statuses.Infof("entry %d", i)
	}

	entries := statuses.Entries()
	assert.Len(entries, 3, "the manager must retain only Keep entries")
	assert.Equal("entry 7", entries[0].Message, "the oldest entries must be dropped first")
	assert.Equal("entry 9", entries[2].Message)
}

func TestManagerListener(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var got []status.Entry

	statuses := status.New()
	statuses.OnEntry(func(e status.Entry) { got = append(got, e) })
	statuses.Warnf("pushed")

	assert.Len(got, 1)
	assert.Equal(status.Warn, got[0].Level)
	assert.Equal("pushed", got[0].Message)
}

// A nil manager discards everything instead of panicking, so components
// can treat the side channel as optional.
func TestNilManager(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	var statuses *status.Manager

	statuses.Infof("dropped")
	statuses.Warnf("dropped")
	statuses.Errorf(errTest, "dropped")
	statuses.OnEntry(func(status.Entry) {})
	assert.Nil(statuses.Entries())
}

func TestLevelString(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Equal("INFO", status.Info.String())
	assert.Equal("WARN", status.Warn.String())
	assert.Equal("ERROR", status.Error.String())
	assert.Equal("UNKNOWN", status.Level(42).String())
}
