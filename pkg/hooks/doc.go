// Package hooks runs site-defined policy commands at agent lifecycle events.
//
// Hooks are external commands grouped per event and matcher. Each run
// receives a JSON payload on stdin and answers with an exit code and
// optional JSON on stdout; the pipeline parses the decision, aggregates all
// runs fired for the event, and hands the caller a single Outcome. Parse and
// spawn failures are contained to the individual run; only explicit block,
// deny, or continue:false decisions change caller behavior.
package hooks
