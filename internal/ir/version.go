package ir

// Version constants for the canonical encoding and the toolchain.
const (
	// EncodingVersion is the canonical binary encoding version.
	EncodingVersion = "1"

	// ToolchainVersion is the Causality toolchain version.
	ToolchainVersion = "0.1.0"
)
