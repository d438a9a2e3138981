package refsi

import (
	"errors"
	"fmt"
)

// Sentinel errors for each subsystem, wrapped in an *OpError (see opErr) at
// the point of failure so callers can errors.Is/errors.As against the
// subsystem while still getting a specific message.
var (
	ErrAllocator = errors.New("refsi: allocator error")
	ErrMemory    = errors.New("refsi: memory error")
	ErrWindow    = errors.New("refsi: window error")
	ErrDMA       = errors.New("refsi: dma error")
	ErrCMP       = errors.New("refsi: command processor error")
	ErrELF       = errors.New("refsi: elf error")
	ErrSim       = errors.New("refsi: simulator error")
	ErrDevice    = errors.New("refsi: device error")
)

// OpError wraps a sentinel with the operation and address that failed, the
// way MemoryError does in the teacher's memory package.
type OpError struct {
	Err  error
	Op   string
	Addr Addr
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s @ 0x%x", e.Op, e.Err, e.Addr)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func opErr(op string, addr Addr, sentinel error) error {
	return &OpError{Op: op, Addr: addr, Err: sentinel}
}
