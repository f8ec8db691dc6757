package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultPattern matches the motion-capture videos.
const DefaultPattern = "*.mp4"

// Report summarises one retention pass.
type Report struct {
	Checked int
	Partition
	Removed int
}

// Attempted returns the number of files selected for deletion.
func (r Report) Attempted() int {
	return len(r.Batch())
}

// Cleaner runs retention passes over one directory.
type Cleaner struct {
	fs      afero.Fs
	dir     string
	pattern string
	now     func() time.Time
	log     *zap.SugaredLogger
}

// NewCleaner creates a Cleaner for files matching pattern under dir.
func NewCleaner(fs afero.Fs, dir, pattern string, log *zap.SugaredLogger) *Cleaner {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Cleaner{
		fs:      fs,
		dir:     dir,
		pattern: pattern,
		now:     time.Now,
		log:     log,
	}
}

// WithClock overrides the time source. Used by tests.
func (c *Cleaner) WithClock(now func() time.Time) *Cleaner {
	c.now = now
	return c
}

// List returns a fresh listing of every matching file, sorted by path.
// Files that vanish or cannot be stat'd between glob and stat are skipped.
func (c *Cleaner) List() ([]FileRecord, error) {
	paths, err := afero.Glob(c.fs, filepath.Join(c.dir, c.pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", c.pattern, err)
	}
	sort.Strings(paths)

	files := make([]FileRecord, 0, len(paths))
	for _, p := range paths {
		info, err := c.fs.Stat(p)
		if err != nil {
			c.log.Warnw("skipping video", "path", p, "err", err)
			continue
		}
		if info.IsDir() {
			continue
		}
		files = append(files, NewFileRecord(p, info.Size(), info.ModTime()))
	}
	return files, nil
}

// Clean runs one retention pass: list, partition, delete.
func (c *Cleaner) Clean(ctx context.Context, p Policy) (Report, error) {
	files, err := c.List()
	if err != nil {
		return Report{}, err
	}

	rep := Report{Checked: len(files), Partition: p.Apply(files, c.now())}
	if rep.Checked > 0 {
		c.log.Infow("checking videos for cleanup", "videos", rep.Checked)
	}
	for _, b := range rep.Buckets {
		if len(b.Files) > 0 {
			c.log.Infow("removing videos", "bucket", b.Name, "files", len(b.Files), "size_kb", b.SizeKB)
		}
	}

	rep.Removed = c.RemoveFiles(ctx, rep.Batch())
	return rep, nil
}

// RemoveFiles deletes every path, continuing past failures. It returns how
// many files were actually removed.
func (c *Cleaner) RemoveFiles(ctx context.Context, paths []string) int {
	n := 0
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			c.log.Warnw("video removal interrupted", "remaining", len(paths)-i, "err", err)
			break
		}
		if err := c.fs.Remove(p); err != nil {
			c.log.Errorw("could not remove video", "path", p, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		c.log.Infow("removed videos", "files", n)
	}
	return n
}

// TotalSize sums the size of every video modified within [from, to].
func (c *Cleaner) TotalSize(from, to time.Time) (int64, error) {
	files, err := c.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		if !f.ModTime.Before(from) && !f.ModTime.After(to) {
			total += f.Size
		}
	}
	return total, nil
}
