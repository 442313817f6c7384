package mx

import (
	"time"

	"github.com/imdario/mergo"
)

// Config configures Client/Manager/Backend behaviour. Construct with
// DefaultConfig, then override only the fields that matter, and merge
// with Merge.
type Config struct {
	// HeartbeatWriteInterval is how often a HEARTBIT envelope is sent on
	// each connected channel.
	HeartbeatWriteInterval time.Duration

	// HeartbeatReadInterval is advisory only; this implementation does
	// not itself enforce a read deadline based on it, leaving that
	// policy to callers that want it.
	HeartbeatReadInterval time.Duration

	// DedupCapacity bounds the recent-ids de-duplication set.
	DedupCapacity int

	// DefaultQueryTimeout is used by Client.Query when the caller does
	// not supply a per-call timeout.
	DefaultQueryTimeout time.Duration

	// ReactorPollTimeout is not read by this implementation: the
	// manager's reactor wakes directly on its task queue and on shutdown,
	// so the value has no effect.
	ReactorPollTimeout time.Duration
}

// DefaultConfig holds the library's default configuration.
var DefaultConfig = Config{
	HeartbeatWriteInterval: 10 * time.Second,
	HeartbeatReadInterval:  30 * time.Second,
	DedupCapacity:          20000,
	DefaultQueryTimeout:    5 * time.Second,
	ReactorPollTimeout:     time.Second,
}

// Merge returns a copy of cfg with every zero-valued field filled in
// from DefaultConfig.
func Merge(cfg Config) Config {
	merged := cfg
	_ = mergo.Merge(&merged, DefaultConfig)
	return merged
}
