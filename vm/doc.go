// Package vm decodes and executes bvm programs.
//
// A program is a stream of self-describing instructions. Each one starts
// with a unary header selecting its category (operator, variable, literal,
// argument, bracket, call, declaration, RunIn, import, input, output, exit)
// followed by a payload in the variable-length integer codec of package
// bitstream. Scripts use a whitespace-separated text form of the same
// instructions and run without a compile step.
//
// The Engine consumes one instruction per Step. Instructions that need
// operands wait on the pending stack until later instructions fill them, so
// a statement is written in prefix order:
//
//	put v1 add a0 a1
//
// Control flow is bracketed. IF=, IF!, WHILE=, WHILE! and ENDWHILE= or
// ENDWHILE! compare their two operands for equality:
//
//	WHILE! v1 0
//	    dec v1
//	END
//
// The engine keeps five stacks in step: entered environments, open brackets,
// active calls, suspended importers and the pending statement. After every
// Step the number of environments equals brackets plus imports plus one.
//
// A flat engine (Config.Flat) validates a program without running it:
// every instruction is decoded exactly once, in order, which is what the
// compiler and decompiler rely on.
package vm
