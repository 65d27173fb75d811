// Package http implements an HTTP based transport layer for the tKV RPC system.
//
// The server accepts requests as POST /{dbId} with the serialized message as body and
// answers with the serialized response. GET /metrics exposes the library metrics in
// Prometheus text format.
//
// The client selects endpoints round-robin. Endpoints without a scheme default to http.
// A request is only repeated when no connection could be established, once a request
// was sent it is never repeated since most operations are not idempotent.
//
// Thread Safety:
//
//	Send is safe for concurrent use, Connect and Close are not.
package http
