package verdictcache

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultNamespace = "component-licensing"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Verdict is a persisted authorization result. Timestamp is epoch
// milliseconds.
type Verdict struct {
	Status    bool  `json:"status"`
	Timestamp int64 `json:"timestamp"`
}

func NewVerdict(status bool, at time.Time) Verdict {
	return Verdict{Status: status, Timestamp: at.UnixMilli()}
}

func (v Verdict) Time() time.Time {
	return time.UnixMilli(v.Timestamp)
}

// Expired reports whether more than ttl has passed since the verdict was
// recorded.
func (v Verdict) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(v.Time()) > ttl
}

type Store interface {
	// Load returns ok=false when no verdict is stored under key.
	Load(ctx context.Context, key string) (verdict Verdict, ok bool, err error)
	Save(ctx context.Context, key string, verdict Verdict) error
}

func Key(namespace, identity string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "-" + strings.TrimSpace(identity)
}
