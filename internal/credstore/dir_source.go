package credstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"
)

var authFilePattern = regexp.MustCompile(`^auth-(\d+)\.json$`)

// dirSource reads bundles from auth-<N>.json files under a directory.
type dirSource struct {
	dir string
}

func newDirSource(dir string) *dirSource {
	return &dirSource{dir: dir}
}

func (s *dirSource) name() string {
	return "dir"
}

func (s *dirSource) scan() map[int][]byte {
	out := make(map[int][]byte)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.WithError(err).Warnf("Cannot read auth directory %s", s.dir)
		return out
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := authFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil || index < 1 {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			log.WithError(err).Warnf("Cannot read %s", entry.Name())
			continue
		}
		out[index] = raw
	}
	return out
}

func (s *dirSource) read(index int) ([]byte, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("auth-%d.json", index))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
