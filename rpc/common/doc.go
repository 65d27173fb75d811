// Package common provides the data structures shared by the rpc packages.
//
// Key Components:
//
//   - Message: the single request and response structure of the protocol. Which fields
//     are used depends on the MessageType. Errors travel as kvdb code, operation and
//     message, ResponseError turns them back into a *kvdb.Error on the client.
//
//   - MessageType: one type per store.IStore and lockmgr.ILockManager operation plus
//     the generic success and error types.
//
//   - ServerConfig: the served databases, listener settings and kvdb runtime params.
//
//   - ClientConfig: endpoints, connections per endpoint, timeouts and retries.
//
//   - Logger: a dragonboat logger.Factory with a compact line format, installed by
//     InitLoggers.
package common
