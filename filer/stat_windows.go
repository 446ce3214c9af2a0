package filer

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// Stat returns a *FileInfo struct w/ attached os.FileInfo interface.
func Stat(filename string) (*FileInfo, error) {
	fileStat, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("stat error: %w", err)
	}

	attr, _ := fileStat.Sys().(*syscall.Win32FileAttributeData)

	return &FileInfo{
		FileInfo:   fileStat,
		CreateTime: time.Unix(0, attr.CreationTime.Nanoseconds()),
	}, nil
}
