// Package session holds the live conversation state of an agent session
// and its durable transcript. State is an explicit object passed by
// reference; persistence goes through a SQLite store with a cron-scheduled
// retention sweeper.
package session
