// Package trigger turns schedule strings into lazy, restartable sequences of firings.
//
// A Trigger pairs a robfig/cron schedule with a zone clock. Ranging over
// Firings suspends on the clock until each next instant; ranging again starts
// over from the clock's current time.
package trigger
