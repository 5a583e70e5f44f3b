package ids

import (
	"time"

	"github.com/segmentio/ksuid"
)

// New returns a K-sortable identifier: a 32-bit timestamp prefix followed by
// 128 random bits, base62 encoded.
func New() string {
	return ksuid.New().String()
}

// NewAt is New with an explicit timestamp prefix.
func NewAt(t time.Time) string {
	id, err := ksuid.NewRandomWithTime(t)
	if err != nil {
		return ksuid.New().String()
	}
	return id.String()
}
