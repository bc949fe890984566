package pipeline

import (
	"fmt"
	"math/rand"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewRequestID mints a relay request ID: epoch milliseconds, an underscore,
// and nine random alphanumerics. The timestamp keeps IDs sortable in logs.
func NewRequestID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), suffix)
}
