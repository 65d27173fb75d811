// Package unix implements the framed RPC transport over Unix domain sockets on top of the
// base package, for clients running on the same machine as the server.
//
// The server removes a stale socket file before listening. The default server buffer
// size is 64 KB.
package unix
