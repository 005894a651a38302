// Package scheduler keeps a registry of named triggers.
//
// Each trigger runs in its own supervised goroutine that ranges over the
// trigger's firings and hands each one to the task engine. The scheduler only
// decides when; the engine decides how (timeouts, overlap, history).
package scheduler
