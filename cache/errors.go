package cache

import "errors"

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// ErrClockNotMonotonic reports that a shard's reaper observed time moving
// backwards. The reaper relies on non-decreasing readings to judge node age,
// so it shuts down instead of evicting on corrupt timestamps; the shard keeps
// serving gets and sets but no longer reclaims anything. Close returns this
// error (wrapped with the shard index) for every reaper that died this way.
var ErrClockNotMonotonic = errors.New("cache: clock went backwards")
