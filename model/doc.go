// Package model defines the provider-agnostic abstractions for the language
// model driving sub-task loops inside valet.
//
// Core goals:
//   - One synchronous round-trip per call: transcript in, text or tool calls out
//   - Normalized tool representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the sub-task runner remains decoupled from vendor SDKs.
package model
