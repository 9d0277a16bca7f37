// Package scheduler manages the lifecycle of tool calls requested by the
// model: validation, policy hooks, user approval, checkpointing, and
// execution. Calls move through a monotonic status machine and batches are
// awaited through a re-armable wait condition.
package scheduler
