// Package sshaudit records what users type into relayed SSH shells.
//
// # Components
//
//   - [Recorder]: per-connection keystroke buffer that turns raw input into
//     [CommandRecord] values at each CR/LF.
//   - [Sink]: append-only destination for command records.
//   - [FileSink]: the primary audit store, a plain-text file with one
//     "[timestamp] [user@host] command" line per record.
//   - [Auditor]: a gorm-backed copy of commands plus connection lifecycle
//     events, queryable through [Auditor.Query].
//   - [MultiSink]: fans records out to several sinks.
//
// Sinks are the only state shared between relay connections; every Sink in
// this package is safe for concurrent use. Nothing in this package updates or
// deletes a record once written.
//
// # Limitations
//
// The Recorder approximates shell line editing. Arrow keys, tab completion,
// history recall and multi-line input are not understood, so the recorded
// text can differ from what the shell actually executed.
//
// # Log Prefixes
//
// Audit log messages use the [ssh-audit] prefix for easy filtering.
package sshaudit
