package av

import (
	"fmt"

	"github.com/Axixi2233/chiaki-android/errs"
)

// Sentinel errors for frame assembly. Each wraps the shared taxonomy so
// that errs.IsPerPacket classifies them.

// Frame allocation errors.
var (
	// ErrTooManyUnits indicates a frame announces more units than a frame
	// buffer can hold.
	ErrTooManyUnits = fmt.Errorf("too many units in frame: %w", errs.ErrInvalidData)

	// ErrFECExceedsTotal indicates a header whose FEC count is larger than
	// its total unit count.
	ErrFECExceedsTotal = fmt.Errorf("FEC units exceed total units: %w", errs.ErrInvalidData)

	// ErrNoFrame indicates a unit arrived before any frame was allocated.
	ErrNoFrame = fmt.Errorf("no frame allocated: %w", errs.ErrUninitialized)
)

// Unit errors.
var (
	// ErrUnitOutOfRange indicates a unit index beyond the current frame.
	ErrUnitOutOfRange = fmt.Errorf("unit index out of range: %w", errs.ErrInvalidData)

	// ErrDuplicateUnit indicates a unit that was already stored.
	ErrDuplicateUnit = fmt.Errorf("duplicate unit: %w", errs.ErrInvalidData)

	// ErrUnitTooBig indicates a unit larger than the frame's unit size.
	ErrUnitTooBig = fmt.Errorf("unit too big for frame buffer: %w", errs.ErrBufTooSmall)

	// ErrUnitPadding indicates a recovered unit whose padding field does not
	// fit the unit size.
	ErrUnitPadding = fmt.Errorf("invalid unit padding: %w", errs.ErrFECFailed)
)
