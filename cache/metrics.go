package cache

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                                   {}
func (NoopMetrics) Miss()                                  {}
func (NoopMetrics) Evict(EvictReason)                      {}
func (NoopMetrics) Sweep(shard, unlinked, removed int)     {}
func (NoopMetrics) Size(shard int, entries int, mem int64) {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
