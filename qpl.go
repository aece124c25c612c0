// Package qpl is a software engine for DEFLATE compression and for filtering
// streams of packed integers.
//
// All work goes through a Job. The caller fills in the Job's buffers,
// operation and flags, and calls Execute, possibly many times: a stream may
// arrive in chunks, and output may be collected into a series of buffers.
// Between calls the Job keeps whatever it needs to carry on exactly where it
// stopped, down to the bit.
//
// The codecs themselves live in the sub-packages: bitstream for bit-level
// I/O, huffman for code construction and canned tables, flate for the
// DEFLATE block codec, and analytics for the element stream operations.
package qpl

import (
	"fmt"
	"sync"
	"unsafe"
)

// Path selects the backend that executes a Job.
type Path int

const (
	Software Path = iota
	Hardware
	Auto // hardware when an accelerator is registered, otherwise software
)

func (p Path) String() string {
	switch p {
	case Software:
		return "software"
	case Hardware:
		return "hardware"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

func (p Path) valid() bool {
	return p >= Software && p <= Auto
}

// JobSize returns the number of bytes a Job takes for the given path, not
// counting the buffers it allocates once it runs.
func JobSize(p Path) (int, error) {
	if !p.valid() {
		return 0, InvalidPath
	}
	return int(unsafe.Sizeof(Job{})), nil
}

// An Accelerator is a hardware backend. It sees the same Job fields as the
// software path and must leave the same results in them.
type Accelerator interface {
	// Supports reports whether the accelerator can run j's operation with
	// j's flags.
	Supports(j *Job) bool

	// Execute runs one call of j.
	Execute(j *Job) error
}

var (
	accelMu sync.RWMutex
	accel   Accelerator
)

// RegisterAccelerator makes a available to jobs initialized afterwards on
// the Hardware or Auto paths. Registering nil removes it.
func RegisterAccelerator(a Accelerator) {
	accelMu.Lock()
	accel = a
	accelMu.Unlock()
}

func registeredAccelerator() Accelerator {
	accelMu.RLock()
	defer accelMu.RUnlock()
	return accel
}
