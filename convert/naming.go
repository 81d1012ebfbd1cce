package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TimestampLayout is 'yyyyMMdd_HHmmss'
const TimestampLayout = "20060102_150405"

// Number of '_N' suffixes tried before giving up on a free name
const maxRenameAttempts = 1000

// DefaultRenameExts are the pair of source and converted files
var DefaultRenameExts = []string{".dav", ".mp4"}

// ErrNoFreeName is returned when every candidate name is already taken
var ErrNoFreeName = errors.New("No free file name")

// TimestampName formats time as a file name without extension
func TimestampName(t time.Time) string {
	return t.Format(TimestampLayout)
}

// RenamePair renames dir/base.ext to dir/<timestamp>.ext for every existing extension.
// Returns new paths of the renamed files
func RenamePair(dir, base string, t time.Time, exts ...string) ([]string, error) {
	return RenamePairTo(dir, base, TimestampName(t), exts...)
}

// RenamePairTo renames dir/base.ext to dir/newBase.ext for every existing extension.
// Existing files are never overwritten: when any target is taken the whole pair gets '_1', '_2', ... suffix.
// Returns new paths of the renamed files
func RenamePairTo(dir, base, newBase string, exts ...string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultRenameExts
	}
	sources := []string{}
	for _, ext := range exts {
		oldPath := filepath.Join(dir, base+ext)
		if _, err := os.Stat(oldPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "Can't stat '%s'", oldPath)
		}
		sources = append(sources, ext)
	}
	if len(sources) == 0 {
		return []string{}, nil
	}
	for attempt := 0; attempt < maxRenameAttempts; attempt++ {
		candidate := newBase
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_%d", newBase, attempt)
		}
		renamed, err := linkAll(dir, base, candidate, sources)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Can't rename '%s'", filepath.Join(dir, base))
		}
		for i, ext := range sources {
			oldPath := filepath.Join(dir, base+ext)
			if err := os.Remove(oldPath); err != nil {
				return renamed, errors.Wrapf(err, "Can't remove '%s'", oldPath)
			}
			log.Info().Str("scope", SCOPE_CONVERT).Str("event", EVENT_CONVERT_RENAME).Str("from", oldPath).Str("to", renamed[i]).Msg("File has been renamed")
		}
		return renamed, nil
	}
	return nil, errors.Wrapf(ErrNoFreeName, "'%s'", filepath.Join(dir, newBase))
}

// linkAll hard links every source to the new base. Link fails on existing target, so nothing is overwritten.
// On error links made so far are removed and the unwrapped error is returned
func linkAll(dir, base, newBase string, exts []string) ([]string, error) {
	linked := make([]string, 0, len(exts))
	for _, ext := range exts {
		newPath := filepath.Join(dir, newBase+ext)
		if err := os.Link(filepath.Join(dir, base+ext), newPath); err != nil {
			for _, path := range linked {
				os.Remove(path)
			}
			return nil, err
		}
		linked = append(linked, newPath)
	}
	return linked, nil
}
