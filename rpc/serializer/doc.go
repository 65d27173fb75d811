// Package serializer converts common.Message values to bytes and back for the rpc
// transports. All implementations satisfy IRPCSerializer and are stateless, so a single
// instance can be shared by every connection.
//
// Implementations:
//
//   - Binary (NewBinarySerializer): a flag-prefixed layout that only writes present
//     fields. Smallest payloads and the fastest codec, the default for tcp and unix.
//     It is the only codec that keeps an empty value apart from an absent one on the wire,
//     the store layer treats both as "found, empty" so the difference never surfaces.
//
//   - JSON (NewJSONSerializer): human readable, message types travel by name and byte
//     fields as base64. Useful with the http transport and for debugging with curl.
//
//   - GOB (NewGOBSerializer): Go's gob encoding. Every message carries its own type
//     description, which makes it the largest and slowest of the three.
//
// ByName maps the names used in configuration files (json, gob, binary) to a serializer.
//
// Usage:
//
//	s, _ := serializer.ByName("binary")
//	data, err := s.Serialize(common.Message{MsgType: common.MsgTKVGet, KVS: "kvs", Key: key})
//	var reply common.Message
//	err = s.Deserialize(data, &reply)
package serializer
