package repository

import (
	"time"

	"github.com/okian/fleetguard/pkg/logger"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCollectionCapacity bounds how many documents each collection keeps.
func WithCollectionCapacity(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// MirrorOption configures a RedisMirror.
type MirrorOption func(*RedisMirror)

// WithHealthTTL sets how long a mirrored health hash lives.
func WithHealthTTL(ttl time.Duration) MirrorOption {
	return func(m *RedisMirror) {
		if ttl > 0 {
			m.healthTTL = ttl
		}
	}
}

// WithKeyPrefix namespaces every Redis key and channel.
func WithKeyPrefix(prefix string) MirrorOption {
	return func(m *RedisMirror) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithMirrorLogger sets the logger used for mirror failures.
func WithMirrorLogger(l logger.Logger) MirrorOption {
	return func(m *RedisMirror) {
		if l != nil {
			m.logger = l
		}
	}
}
