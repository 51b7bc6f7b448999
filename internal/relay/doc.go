// Package relay bridges browser WebSockets to interactive SSH shells.
//
// A [Gateway] accepts WebSocket connections on one path. Each connection
// speaks a small JSON protocol:
//
//	client → relay   {"type":"connect","host":"h","port":22,"username":"u","password":"p"}
//	                 {"type":"data","data":"ls\r"}
//	                 {"type":"resize","cols":120,"rows":40}
//	relay → client   {"type":"connected"}
//	                 {"type":"data","data":"..."}
//	                 {"type":"disconnected"}
//	                 {"type":"error","message":"..."}
//
// A connection owns at most one upstream session, driven by an
// [sshmanager.Manager]. A second connect is answered with an error and does
// not dial. Data received before the shell is active is dropped without a
// reply. Keystrokes that reach the shell also go through an
// [sshaudit.Recorder], which writes completed command lines to the
// configured sink.
//
// When the upstream ends the relay sends "disconnected" and closes the
// WebSocket normally; on an upstream failure it sends "error" and closes
// with status 4500. When the client goes away the upstream is closed before
// the handler returns.
//
// Shell input is written by a separate goroutine, so a shell that stops
// reading stdin does not hold up its output or the teardown. If more than
// 1 MiB of input queues up the relay sends "error" and closes with status
// 1008.
package relay
