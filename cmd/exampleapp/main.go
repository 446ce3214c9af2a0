// Package main is a simple example app that writes logs through a zap
// logger to watch fixed-window rollover and background compression in action.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/archiverr/archiverr"
	"github.com/archiverr/archiverr/status"
	"github.com/archiverr/archiverr/window"
)

// ///////////////////////////////////////////////////////////////////////// //

// Usage, five gzipped archive slots:
//   go run ./cmd/exampleapp compress
//
// Usage, plain renamed archives:
//   go run ./cmd/exampleapp
//
// Interrupt mid-compression (Ctrl-C) and start again to watch the
// recovery of the .compressing marker file.

const (
	logFilePath     = "/tmp/myfolder/myfile.log"
	logFileSize     = 1024 * 1024 // 1 megabyte.
	maxIndex        = 6           // slots 1..5 on disk.
	bytesPerLogLine = 5000
	timeBetweenLogs = 5 * time.Millisecond
)

// ///////////////////////////////////////////////////////////////////////// //

func main() {
	statuses := status.New()
	statuses.OnEntry(func(e status.Entry) {
		if e.Err != nil {
			fmt.Fprintf(os.Stderr, "\n[%s] %s: %v\n", e.Level, e.Message, e.Err)
		} else {
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", e.Level, e.Message)
		}
	})

	writer := archiverr.NewMust(&archiverr.Config{
		Filepath: logFilePath,
		FileSize: logFileSize,
		Status:   statuses,
		Policy: &window.Layout{
			MaxIndex: maxIndex,
			Compress: isArg("compress"),
			Status:   statuses,
		},
	})

	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(writer),
		zap.InfoLevel,
	))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	go makeLogs(logger)

	<-sigc
	// Close drains any in-flight compression (bounded) before exit.
	if err := writer.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
	}

	statuses.Print(os.Stderr)
}

// Write fake logs!
func makeLogs(logger *zap.Logger) {
	logLine := strings.Repeat("_", bytesPerLogLine)

	ticker := time.NewTicker(timeBetweenLogs)
	for range ticker.C {
		fmt.Print(".")
		logger.Info(logLine, zap.Time("tick", time.Now()))
	}
}

// seems easy, but flag is better.
func isArg(arg string) bool {
	for _, a := range os.Args {
		if strings.EqualFold(a, arg) {
			return true
		}
	}

	return false
}
