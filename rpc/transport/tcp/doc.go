// Package tcp implements the framed RPC transport over TCP sockets on top of the base
// package. Both sides apply the TCPConf and SocketConf options (no delay, keep-alive,
// linger, buffer sizes) to every connection.
//
// The default server buffer size is 512 KB.
package tcp
