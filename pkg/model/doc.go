// Package model defines the streaming model-call abstraction consumed by the
// turn orchestrator: conversation messages, request/chunk types, a Client
// interface, provider adapters, and a sticky per-prompt model selector.
package model
