// Package stdio implements the JSON-RPC transport between the editor host and
// an agent subprocess over a reader/writer pair, normally the child's stdout
// and stdin.
//
// Frames use the Content-Length header framing common to editor protocols:
//
//	Content-Length: 52\r\n
//	Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n
//	\r\n
//	{"jsonrpc":"2.0","method":"initialized","params":{}}
//
// Content-Type is optional. When present it must name a JSON media type with a
// UTF-8 charset; other frames are skipped.
//
// A Conn routes inbound requests and notifications to an Inbound (normally a
// *dispatcher.Dispatcher) and matches inbound responses against calls made with
// Call. Writes are serialized so that concurrent responders never interleave
// frames.
//
// Example:
//
//	conn := stdio.NewConn(stdio.WithIO(cmd.Stdout, cmd.Stdin))
//	go conn.Serve(ctx, d)
//	var info protocol.ServerInfo
//	err := conn.Call(ctx, "initialize", params, &info)
package stdio
