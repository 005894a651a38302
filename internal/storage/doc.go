// Package storage provides a small persistence layer used by the bot.
//
// It currently supports:
//   - Audit log appends (group state changes and broadcast runs)
//   - A dedup ledger for scheduled firings (to survive restarts)
//   - A member directory fed by incoming group traffic
package storage
