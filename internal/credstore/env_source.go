package credstore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "AUTH_JSON_"

// envSource reads bundles from AUTH_JSON_<N> environment variables.
type envSource struct{}

func newEnvSource() *envSource {
	return &envSource{}
}

func (s *envSource) name() string {
	return "env"
}

func (s *envSource) scan() map[int][]byte {
	out := make(map[int][]byte)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], envPrefix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(parts[0], envPrefix))
		if err != nil || index < 1 {
			continue
		}
		out[index] = []byte(parts[1])
	}
	return out
}

func (s *envSource) read(index int) ([]byte, error) {
	v := os.Getenv(fmt.Sprintf("%s%d", envPrefix, index))
	if v == "" {
		return nil, fmt.Errorf("%s%d is not set", envPrefix, index)
	}
	return []byte(v), nil
}
