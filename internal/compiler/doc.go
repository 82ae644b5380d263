// Package compiler turns S-expression source into content-addressed
// artifacts: source, parsed form, effect expression, temporal effect
// graph and register program.
//
// The pipeline is Read → Analyze → teg.Build → Graph.ToProgram. Every
// stage is deterministic, so identical sources yield byte-identical
// artifacts with identical ids.
//
// CRITICAL PATTERNS:
//
// CP-1: No partial artifacts. A stage that fails returns a CompileError
// and nothing is cached.
//
// CP-2: One compilation per source. ArtifactCache collapses concurrent
// requests for the same source hash into a single compilation.
//
// CP-3: Environment independence. The compiler never inspects the target
// domain; located morphisms are resolved by domain adapters.
package compiler
