package config

// Limits imposed by the instruction encoding.
const (
	// MaxLocals is the number of frame slots addressable by one-byte operands
	MaxLocals = 256
	// MaxConstants is the number of constants addressable by two-byte operands
	MaxConstants = 65536
	// MaxArgs is the largest argument count of a call instruction
	MaxArgs = 255
	// MaxCaptures is the number of free variables one closure may reference
	MaxCaptures = 256
	// MaxJump is the largest forward jump distance
	MaxJump = 65535
)

// Runtime limits.
const (
	// MaxCallDepth bounds nested delegate invocations inside one artifact call
	MaxCallDepth = 1024
	// InitialStackSize is the operand stack capacity of a fresh machine
	InitialStackSize = 64
)

// Logger names.
const (
	LogCompiler = "exprvm.compiler"
	LogVM       = "exprvm.vm"
	LogEval     = "exprvm.evaluator"
	LogBackend  = "exprvm.backend"
	LogCache    = "exprvm.cache"
)

// DefaultOptionsFile is looked up in the working directory by the CLI.
const DefaultOptionsFile = "exprvm.yaml"
