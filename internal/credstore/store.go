package credstore

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Store vends credential bundles by index. Implementations are read-only
// after startup; Load re-reads the source so externally rotated bundles are
// picked up on next use.
type Store interface {
	// AvailableIndices returns the valid indices in ascending order.
	AvailableIndices() []int
	// NameOf returns the account display name for an index, if known.
	NameOf(index int) (string, bool)
	// Load returns the raw bundle JSON for an index, or an error.
	Load(index int) ([]byte, error)
	// MaxIndex returns the highest valid index.
	MaxIndex() int
}

// source abstracts the two discovery modes (environment, directory).
type source interface {
	name() string
	// scan returns raw candidate bundles keyed by index.
	scan() map[int][]byte
	// read re-reads a single bundle from the backing source.
	read(index int) ([]byte, error)
}

// store validates candidates once at startup and keeps the index list fixed.
type store struct {
	src     source
	indices []int
	names   map[string]string // keyed by formatted index
}

// New discovers and validates credential bundles. The environment source
// (AUTH_JSON_<N>) wins when any such variable is set; otherwise the directory
// source (auth-<N>.json under dir) is used. It fails when no valid bundle
// remains.
func New(dir string) (Store, error) {
	var src source = newEnvSource()
	if len(src.scan()) == 0 {
		src = newDirSource(dir)
	}
	return newFromSource(src)
}

func newFromSource(src source) (Store, error) {
	candidates := src.scan()

	s := &store{src: src, names: make(map[string]string)}
	for index, raw := range candidates {
		parsed := gjson.ParseBytes(raw)
		if !parsed.IsObject() {
			log.Warnf("Credential bundle %d from %s is not valid JSON; skipping", index, src.name())
			continue
		}
		if name := parsed.Get("accountName"); name.Exists() {
			s.names[key(index)] = name.String()
		}
		s.indices = append(s.indices, index)
	}
	sort.Ints(s.indices)

	if len(s.indices) == 0 {
		return nil, fmt.Errorf("no valid credential bundles found in %s source", src.name())
	}
	log.Infof("Loaded %d credential bundle(s) from %s source", len(s.indices), src.name())
	return s, nil
}

func (s *store) AvailableIndices() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

func (s *store) NameOf(index int) (string, bool) {
	name, ok := s.names[key(index)]
	return name, ok
}

func (s *store) Load(index int) ([]byte, error) {
	raw, err := s.src.read(index)
	if err != nil {
		return nil, fmt.Errorf("load credential %d: %w", index, err)
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("load credential %d: bundle is not valid JSON", index)
	}
	return raw, nil
}

func (s *store) MaxIndex() int {
	if len(s.indices) == 0 {
		return 0
	}
	return s.indices[len(s.indices)-1]
}

func key(index int) string {
	return fmt.Sprintf("%d", index)
}
