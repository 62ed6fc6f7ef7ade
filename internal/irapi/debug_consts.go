package irapi

// These consts gate the debugging aids spread over the compiler packages.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PassLoggingEnabled     = false
	LivenessLoggingEnabled = false
	RegAllocLoggingEnabled = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintInputIR      = false
	PrintSimplifiedIR = false
	PrintAllocatedIR  = false
)

// ----- Validations -----
// These consts must be enabled by default until the allocator has seen enough fuzzing.

const (
	IRValidationEnabled       = true
	RegAllocValidationEnabled = true
)
