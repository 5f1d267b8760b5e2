package vfdcache

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isFDExhaustion reports whether err is the EMFILE/ENFILE the local open
// path retries once after an eviction (spec §4.3's local open row).
func isFDExhaustion(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

// isEINTR reports whether err is EINTR, for the caller-controlled read
// retry and the unconditional write retry (spec §4.2/§5).
func isEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}
