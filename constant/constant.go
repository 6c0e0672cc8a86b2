package constant

// Overridden at build time via -ldflags.
var (
	Version     = "dev"
	CompileTime = "unknown"
)
