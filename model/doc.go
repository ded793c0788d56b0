// Package model defines the provider‑agnostic completion service contract
// used by swarmer agents.
//
// Core goals:
//   - Keep request/response shapes minimal: ordered messages in, one
//     assistant message with optional tool calls and usage counters out
//   - Normalize tool declarations (ToolDefinition) across vendors
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so agents remain decoupled from vendor SDKs.
package model
