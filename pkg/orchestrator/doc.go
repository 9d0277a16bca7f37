// Package orchestrator drives the multi-Turn conversation loop: it fires
// agent and model lifecycle hooks, manages context compression and overflow
// protection, detects streaming loops, retries invalid streams, and pauses
// to hand pending tool calls back to the caller. Continuations run through
// an explicit bounded loop, never recursion.
package orchestrator
