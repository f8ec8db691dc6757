// Package retention deletes surveillance video under a layered policy.
//
// A pass lists the video directory, then partitions the files with three
// filters applied in a fixed order, each consuming only what the previous
// ones left behind:
//
//	daytime    captured between MinHour (inclusive) and MaxHour (exclusive)
//	undersize  smaller than MaxSize bytes
//	expired    modified more than MaxAge ago
//
// Each file lands in at most one bucket, so sizes are never double counted
// and each file is deleted once. Nothing is carried between passes.
package retention

import (
	"path/filepath"
	"strings"
	"time"
)

// stampLayout is the capture timestamp at the end of a video name,
// e.g. 01-20240315142501.mp4.
const stampLayout = "20060102150405"

// FileRecord describes one video file for a single pass.
type FileRecord struct {
	Path    string
	Size    int64
	ModTime time.Time

	// Hour is the capture hour, from the name when HourFromName is set and
	// from ModTime otherwise.
	Hour         int
	HourFromName bool
}

// NewFileRecord builds a record, resolving the capture hour.
func NewFileRecord(path string, size int64, modTime time.Time) FileRecord {
	f := FileRecord{Path: path, Size: size, ModTime: modTime}
	if h, ok := HourFromName(path); ok {
		f.Hour, f.HourFromName = h, true
	} else {
		f.Hour = modTime.Hour()
	}
	return f
}

// HourFromName parses the capture hour from the trailing YYYYMMDDHHMMSS
// stamp of a file name. ok is false when the name carries no valid stamp,
// in which case the caller falls back to the modification time.
func HourFromName(path string) (hour int, ok bool) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(stem) < len(stampLayout) {
		return 0, false
	}
	ts, err := time.Parse(stampLayout, stem[len(stem)-len(stampLayout):])
	if err != nil {
		return 0, false
	}
	return ts.Hour(), true
}

func sizeKB(files []FileRecord) float64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return float64(total) / 1024
}
