// Package sshterminal starts PTY-backed interactive shells over an
// established golang.org/x/crypto/ssh client.
//
// [CreateInteractiveSession] opens a session channel, requests a PTY
// ([DefaultTerm], 80x24 unless overridden) and starts the remote user's login
// shell. The returned [TerminalSession] is an io.ReadWriteCloser: Read yields
// stdout and stderr merged in arrival order, Write feeds stdin verbatim, and
// [TerminalSession.Resize] sends window-change requests capped at
// [MaxTermCols] x [MaxTermRows].
//
// # Usage
//
//	session, err := sshterminal.CreateInteractiveSession(sshClient, sshterminal.PTYOptions{})
//	if err != nil { ... }
//	defer session.Close()
//	session.Write([]byte("ls -la\r"))
//	buf := make([]byte, 4096)
//	n, _ := session.Read(buf)
//	session.Resize(120, 40)
package sshterminal
