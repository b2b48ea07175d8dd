// Package agent contains the conversational orchestrator that turns
// natural-language shopping requests into tool calls against merchant
// APIs. It maintains per-conversation history, executes tool calls the
// model requests, and bounds the reasoning loop.
package agent
