package retention

import "time"

// Bucket names, in the order the filters run.
const (
	BucketDaytime   = "daytime"
	BucketUndersize = "undersize"
	BucketExpired   = "expired"
)

// Policy holds the retention thresholds. It does not change during a run.
type Policy struct {
	MinHour int
	MaxHour int
	MaxSize int64
	MaxAge  time.Duration
}

// Bucket is the set of files matched by one filter.
type Bucket struct {
	Name   string
	Files  []FileRecord
	SizeKB float64
}

// Partition is the outcome of applying every filter to a file set.
type Partition struct {
	Buckets  []Bucket
	Retained []FileRecord
}

// Batch returns the paths of every matched file, in bucket order.
func (p Partition) Batch() []string {
	var out []string
	for _, b := range p.Buckets {
		for _, f := range b.Files {
			out = append(out, f.Path)
		}
	}
	return out
}

// Bucket returns the named bucket, or an empty one.
func (p Partition) Bucket(name string) Bucket {
	for _, b := range p.Buckets {
		if b.Name == name {
			return b
		}
	}
	return Bucket{Name: name}
}

// ByTimeOfDay matches files captured in [minHour, maxHour). The window does
// not wrap: minHour >= maxHour matches nothing.
func ByTimeOfDay(files []FileRecord, minHour, maxHour int) (matched, rest []FileRecord, kb float64) {
	return split(files, func(f FileRecord) bool {
		return minHour <= f.Hour && f.Hour < maxHour
	})
}

// BySize matches files strictly smaller than maxSize bytes.
func BySize(files []FileRecord, maxSize int64) (matched, rest []FileRecord, kb float64) {
	return split(files, func(f FileRecord) bool {
		return f.Size < maxSize
	})
}

// ByAge matches files last modified before now - maxAge.
func ByAge(files []FileRecord, now time.Time, maxAge time.Duration) (matched, rest []FileRecord, kb float64) {
	cutoff := now.Add(-maxAge)
	return split(files, func(f FileRecord) bool {
		return f.ModTime.Before(cutoff)
	})
}

// Apply runs the three filters in priority order, each against what the
// previous filters left.
func (p Policy) Apply(files []FileRecord, now time.Time) Partition {
	var part Partition

	day, rest, dayKB := ByTimeOfDay(files, p.MinHour, p.MaxHour)
	part.Buckets = append(part.Buckets, Bucket{Name: BucketDaytime, Files: day, SizeKB: dayKB})

	small, rest, smallKB := BySize(rest, p.MaxSize)
	part.Buckets = append(part.Buckets, Bucket{Name: BucketUndersize, Files: small, SizeKB: smallKB})

	old, rest, oldKB := ByAge(rest, now, p.MaxAge)
	part.Buckets = append(part.Buckets, Bucket{Name: BucketExpired, Files: old, SizeKB: oldKB})

	part.Retained = rest
	return part
}

func split(files []FileRecord, match func(FileRecord) bool) (matched, rest []FileRecord, kb float64) {
	for _, f := range files {
		if match(f) {
			matched = append(matched, f)
		} else {
			rest = append(rest, f)
		}
	}
	return matched, rest, sizeKB(matched)
}
