//go:build !vfddebug

package vfdcache

// checkInvariants is a no-op outside vfddebug builds; see
// invariants_debug.go for the real consistency pass.
func (c *Cache) checkInvariants() error { return nil }
