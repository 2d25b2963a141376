package keys

import (
	"context"
	"os"
	"path/filepath"
)

// FileSource reads PEM files from disk. Relative locations resolve against Dir.
type FileSource struct {
	Dir string
}

func (s FileSource) Load(_ context.Context, location string) ([]byte, error) {
	path := location
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}
	return os.ReadFile(path)
}
