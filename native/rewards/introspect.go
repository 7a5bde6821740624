package rewards

import (
	"encoding/hex"
	"fmt"
)

// InstructionContext exposes the enclosing transaction's ordered instruction
// sequence to the engine. The surrounding execution environment supplies an
// implementation when it dispatches into the engine; tests fake it directly.
type InstructionContext interface {
	// ProgramAt returns the issuing program of the instruction at the given
	// position. ok is false when the position is out of range.
	ProgramAt(index int) (program [20]byte, ok bool)
	// CallerIndex points at the instruction that invoked the current frame.
	// ok is false when the frame was entered directly rather than as a
	// nested call from another program in the same transaction.
	CallerIndex() (index int, ok bool)
}

// VerifyImmediateCaller checks that the instruction which invoked the current
// frame was issued by the expected program. This is a stronger check than a
// signature: it proves a specific program's code path issued the call, not
// merely that some key authorized the transaction.
func VerifyImmediateCaller(ctx InstructionContext, expected [20]byte) error {
	if ctx == nil {
		return fmt.Errorf("%w: no instruction context", ErrInsufficientPrivileges)
	}
	idx, ok := ctx.CallerIndex()
	if !ok {
		return fmt.Errorf("%w: not invoked by a program", ErrInsufficientPrivileges)
	}
	program, ok := ctx.ProgramAt(idx)
	if !ok {
		return fmt.Errorf("%w: invoking instruction out of range", ErrInsufficientPrivileges)
	}
	if program != expected {
		return fmt.Errorf("%w: caller %s is not the allowed program", ErrInsufficientPrivileges, hex.EncodeToString(program[:]))
	}
	return nil
}
