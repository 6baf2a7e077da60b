package strategies

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// GlobScanStrategy walks a directory tree and yields regular files whose base
// name matches a glob pattern and whose mtime is strictly after the
// watermark. Results come back in mtime order so registration follows
// discovery order.
type GlobScanStrategy struct {
	Pattern string
}

func NewGlobScanStrategy(pattern string) *GlobScanStrategy {
	if pattern == "" {
		pattern = "*"
	}
	return &GlobScanStrategy{Pattern: pattern}
}

func (s *GlobScanStrategy) Scan(ctx context.Context, dir string, since *time.Time) ([]Candidate, *time.Time, error) {
	var candidates []Candidate
	var newest time.Time
	if since != nil {
		newest = *since
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		matched, mErr := filepath.Match(s.Pattern, d.Name())
		if mErr != nil {
			return mErr
		}
		if !matched {
			return nil
		}
		info, iErr := d.Info()
		if iErr != nil {
			return iErr
		}
		mtime := info.ModTime()
		if since != nil && !mtime.After(*since) {
			return nil
		}
		if mtime.After(newest) {
			newest = mtime
		}
		candidates = append(candidates, Candidate{
			Path:         path,
			SizeBytes:    info.Size(),
			LastModified: mtime,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastModified.Equal(candidates[j].LastModified) {
			return candidates[i].Path < candidates[j].Path
		}
		return candidates[i].LastModified.Before(candidates[j].LastModified)
	})

	if newest.IsZero() {
		return candidates, since, nil
	}
	return candidates, &newest, nil
}
