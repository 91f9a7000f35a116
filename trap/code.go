package trap

import "fmt"

// Code classifies why a guest call was aborted.
type Code uint8

const (
	// Unknown is used when the call was aborted but no fault detail was
	// recorded.
	Unknown Code = iota
	// Unreachable means the guest executed an undefined instruction.
	Unreachable
	// IntegerDivideByZero means an integer div or rem had a zero divisor.
	IntegerDivideByZero
	// IntegerOverflow means an integer result did not fit its type.
	IntegerOverflow
	// InvalidConversionToInteger means a NaN was truncated to an integer.
	InvalidConversionToInteger
	// OutOfBoundsMemoryAccess means the guest touched memory outside its
	// sandbox, usually a guard page.
	OutOfBoundsMemoryAccess
	// InvalidTableAccess means a table index was out of range or empty.
	InvalidTableAccess
	// IndirectCallTypeMismatch means call_indirect failed its type check.
	IndirectCallTypeMismatch
	// StackOverflow means the guest exhausted its call stack.
	StackOverflow
	// Interrupted means a watchdog stopped the guest.
	Interrupted
	// Exception means a script guest threw and nothing caught it.
	Exception
	// HostFault means a host function raised a fault on the guest's behalf.
	HostFault
)

var codeNames = [...]struct {
	slug    string
	message string
}{
	Unknown:                    {"unknown", "unknown trap"},
	Unreachable:                {"unreachable", "unreachable"},
	IntegerDivideByZero:        {"integer_divide_by_zero", "integer divide by zero"},
	IntegerOverflow:            {"integer_overflow", "integer overflow"},
	InvalidConversionToInteger: {"invalid_conversion_to_integer", "invalid conversion to integer"},
	OutOfBoundsMemoryAccess:    {"out_of_bounds_memory_access", "out of bounds memory access"},
	InvalidTableAccess:         {"invalid_table_access", "invalid table access"},
	IndirectCallTypeMismatch:   {"indirect_call_type_mismatch", "indirect call type mismatch"},
	StackOverflow:              {"stack_overflow", "call stack exhausted"},
	Interrupted:                {"interrupted", "interrupted"},
	Exception:                  {"exception", "uncaught exception"},
	HostFault:                  {"host_fault", "host function fault"},
}

// String returns the human readable description of the code.
func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c].message
	}
	return fmt.Sprintf("trap(%d)", uint8(c))
}

// Slug returns the stable identifier used in reports and metric labels.
func (c Code) Slug() string {
	if int(c) < len(codeNames) {
		return codeNames[c].slug
	}
	return codeNames[Unknown].slug
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.Slug()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	for i, n := range codeNames {
		if n.slug == string(text) {
			*c = Code(i)
			return nil
		}
	}
	return fmt.Errorf("unknown trap code %q", text)
}

// Codes returns every defined code in declaration order.
func Codes() []Code {
	codes := make([]Code, len(codeNames))
	for i := range codeNames {
		codes[i] = Code(i)
	}
	return codes
}
