// Package artifacts stores failure screenshots on disk.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

const DefaultDir = "screenshots"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store writes PNG screenshots into Dir as <tag>_<timestamp>_<run>.png.
type Store struct {
	Dir string
	// Now is overridable in tests.
	Now func() time.Time
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{Dir: dir, Now: time.Now}
}

// Save writes png and returns its path.
func (s *Store) Save(runID, tag string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("empty screenshot")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	name := fmt.Sprintf("%s_%s", sanitize(tag, "screenshot"), now().Format("20060102_150405"))
	if runID != "" {
		short := runID
		if len(short) > 8 {
			short = short[:8]
		}
		name += "_" + sanitize(short, "run")
	}

	path := filepath.Join(s.Dir, name+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func sanitize(s, fallback string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	if s == "" || s == "-" {
		return fallback
	}
	return s
}
