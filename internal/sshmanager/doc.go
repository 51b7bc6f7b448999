// Package sshmanager drives a single upstream SSH shell session on behalf of
// one relay connection.
//
// # Lifecycle
//
// A [Manager] starts Idle. [Manager.Connect] moves it to Connecting and runs
// the handshake in a background goroutine:
//
//	idle → connecting → connected → shell_active → closed
//
// Any non-terminal state may move directly to closed, either through
// [Manager.Close] or because the handshake, shell allocation or the shell
// stream failed. There are no retries; a closed Manager is discarded.
//
// # Events
//
// Progress is published on [Manager.Events]:
//   - [EventConnected] after the handshake.
//   - [EventShellReady] once the PTY shell runs.
//   - [EventOutput] for each chunk of shell output. Output is always cut on
//     UTF-8 boundaries.
//   - [EventDisconnected] when the remote side ends the shell.
//   - [EventError] with a [*ConnectError] or [*ShellError].
//
// # Dialing
//
// The [Dialer] interface isolates the network. [SSHDialer] authenticates
// with the caller's password, falling back to keyboard-interactive, and
// optionally checks host keys against a known_hosts file.
//
// # Rate Limiting
//
// [RateLimiter] throttles connect attempts per key (the relay uses the
// client's source IP) with a per-minute budget and a temporary block after
// consecutive failures.
package sshmanager
