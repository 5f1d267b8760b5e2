// Package budget probes the process's usable file-descriptor ceiling and
// derives max_safe_fds, grounded on fd.c's set_max_safe_fds (spec §4.6).
package budget

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NumReservedFDs and FDMinFree are the constants spec §4.6/§6 name.
const (
	NumReservedFDs = 10
	FDMinFree      = 10
)

// ProbeResult is what Probe observed about the process's descriptor
// ceiling.
type ProbeResult struct {
	Usable       int // number of successful dup(0) calls
	AlreadyOpen  int // fds open before this probe started, inferred from the highest fd seen
	HighestFD    int
}

// Probe repeatedly dup(0)s until failure or maxAttempts successes,
// recording the highest fd observed (spec §4.6 step 1). fd 0 (stdin) must
// already be open for this probe to mean anything — true for any process
// with a standard set of inherited descriptors.
func Probe(maxAttempts int) (ProbeResult, error) {
	var dupped []int
	defer func() {
		for _, fd := range dupped {
			unix.Close(fd)
		}
	}()

	highest := 0
	successes := 0
	for successes < maxAttempts {
		fd, err := unix.Dup(0)
		if err != nil {
			break
		}
		dupped = append(dupped, fd)
		if fd > highest {
			highest = fd
		}
		successes++
	}

	if successes == 0 {
		return ProbeResult{}, fmt.Errorf("budget: dup(0) failed on the very first attempt, cannot determine fd budget")
	}

	return ProbeResult{
		Usable:      successes,
		AlreadyOpen: highest + 1 - successes,
		HighestFD:   highest,
	}, nil
}

// MaxSafeFDs computes max_safe_fds from a ProbeResult and the configured
// ceiling, per spec §4.6 steps 2–4. Returns an error (fatal at startup,
// per spec §7's BudgetExhausted) if the result would leave fewer than
// FDMinFree fds available.
func MaxSafeFDs(result ProbeResult, maxFilesPerProcess int) (int, error) {
	limit := maxFilesPerProcess - result.AlreadyOpen
	usable := result.Usable
	if limit < usable {
		usable = limit
	}
	maxSafe := usable - NumReservedFDs

	if maxSafe < FDMinFree {
		return 0, fmt.Errorf("budget: max_safe_fds=%d is below the minimum of %d reserved fds (usable=%d, already_open=%d, max_files_per_process=%d)",
			maxSafe, FDMinFree, result.Usable, result.AlreadyOpen, maxFilesPerProcess)
	}
	return maxSafe, nil
}

// SetMaxSafeFDs runs Probe then MaxSafeFDs in one call, the Go-idiomatic
// equivalent of fd.c's set_max_safe_fds() (spec §4.6). initialProbeSize is
// the starting attempt ceiling (spec §6's "initial probe default 32");
// it is raised to maxFilesPerProcess when that is larger, since the probe
// must never succeed fewer times than the process is actually configured
// to allow.
func SetMaxSafeFDs(maxFilesPerProcess, initialProbeSize int) (int, error) {
	attempts := initialProbeSize
	if maxFilesPerProcess > attempts {
		attempts = maxFilesPerProcess
	}
	result, err := Probe(attempts)
	if err != nil {
		return 0, err
	}
	return MaxSafeFDs(result, maxFilesPerProcess)
}
