package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	KVS    string   `json:"kvs,omitempty"`    // Used for: all KVS scoped operations
	Key    []byte   `json:"key,omitempty"`    // Used for: Put, Get, Delete, PrefixDelete, PrefixProbe, Seek, SeekRange (min), Acquire, Release
	Value  []byte   `json:"value,omitempty"`  // Used for: Put, SeekRange (max), Release (owner id)
	Params []string `json:"params,omitempty"` // Used for: KVSCreate (request), KVSNames (response)
	Txn    uint64   `json:"txn,omitempty"`    // Used for: point, prefix, cursor create and rebind operations, TxnAlloc (response)
	Cursor uint64   `json:"cursor,omitempty"` // Used for: cursor operations, CursorCreate (response)
	Num    uint64   `json:"num,omitempty"`    // Used for: CursorRead (batch size), Acquire (timeout), PrefixDelete, PrefixProbe, TxnState (responses)
	Flag   bool     `json:"flag,omitempty"`   // Used for: CursorCreate (reverse), CursorRebind (sticky)

	// Response only fields
	Ok    bool         `json:"ok,omitempty"`    // Used for: Get (found), CursorRead (eof), Acquire, Release responses
	Pairs []store.Pair `json:"pairs,omitempty"` // Used for: CursorRead responses
	Code  uint32       `json:"code,omitempty"`  // kvdb.Code of the error, 0 if no error
	ErrOp string       `json:"err_op,omitempty"`
	Err   string       `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info (response, JSON encoded kvdb.Info)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewResponse creates a response of type t carrying err, which may be nil
func NewResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response, used when a request cannot be dispatched
func NewErrorResponse(err error) *Message {
	return NewResponse(MsgTError, err)
}

// SetError stores err in the message. A *kvdb.Error keeps its code and operation.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	var e *kvdb.Error
	if errors.As(err, &e) {
		m.Code = uint32(e.Code)
		m.ErrOp = e.Op
		m.Err = e.Msg
		switch {
		case e.Err != nil && m.Err == "":
			m.Err = e.Err.Error()
		case e.Err != nil:
			m.Err += ": " + e.Err.Error()
		}
		return
	}
	m.Code = uint32(kvdb.CodeEngine)
	m.Err = err.Error()
}

// ResponseError rebuilds the error carried by a response, nil if there is none
func (m *Message) ResponseError() error {
	if m.Code == uint32(kvdb.CodeOK) && m.Err == "" {
		return nil
	}
	code := kvdb.Code(m.Code)
	if code == kvdb.CodeOK {
		code = kvdb.CodeEngine
	}
	return &kvdb.Error{Code: code, Op: m.ErrOp, Msg: m.Err}
}

// NewInfoResponse creates an Info response with info encoded as JSON
func NewInfoResponse(info kvdb.Info, err error) *Message {
	msg := NewResponse(MsgTInfo, err)
	if err == nil {
		meta, mErr := json.Marshal(info)
		if mErr != nil {
			msg.SetError(mErr)
		}
		msg.Meta = meta
	}
	return msg
}

// Info decodes the kvdb.Info of an Info response
func (m *Message) Info() (kvdb.Info, error) {
	var info kvdb.Info
	if len(m.Meta) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(m.Meta, &info); err != nil {
		return info, kvdb.NewError(kvdb.CodeEngine, "rpc.info", "malformed info: %v", err)
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) && messageTypeNames[t] != "" {
		return messageTypeNames[t]
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range messageTypeNames {
		if name == s && name != "" {
			*t = MessageType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore catalog operations

	MsgTKVSCreate // Create a KVS
	MsgTKVSDrop   // Drop a KVS
	MsgTKVSNames  // List the KVS names
	MsgTSync      // Flush the KVDB
	MsgTInfo      // Describe the KVDB

	// IStore key-value operations

	MsgTKVPut          // Put a key-value pair
	MsgTKVGet          // Get a value by key
	MsgTKVDelete       // Delete a key-value pair
	MsgTKVPrefixDelete // Delete all keys with a prefix
	MsgTKVPrefixProbe  // Count keys with a prefix (zero, one, many)

	// IStore transaction operations

	MsgTTxnAlloc
	MsgTTxnBegin
	MsgTTxnCommit
	MsgTTxnAbort
	MsgTTxnState
	MsgTTxnFree

	// IStore cursor operations

	MsgTCurCreate
	MsgTCurRead
	MsgTCurSeek
	MsgTCurSeekRange
	MsgTCurUpdateView
	MsgTCurRebind
	MsgTCurDestroy

	// ILockManager operations

	MsgTLCKAcquire // Acquire a lock
	MsgTLCKRelease // Release a lock
)

var messageTypeNames = [...]string{
	MsgTUnknown:        "",
	MsgTSuccess:        "success",
	MsgTError:          "error",
	MsgTKVSCreate:      "kvsCreate",
	MsgTKVSDrop:        "kvsDrop",
	MsgTKVSNames:       "kvsNames",
	MsgTSync:           "sync",
	MsgTInfo:           "info",
	MsgTKVPut:          "put",
	MsgTKVGet:          "get",
	MsgTKVDelete:       "delete",
	MsgTKVPrefixDelete: "prefixDelete",
	MsgTKVPrefixProbe:  "prefixProbe",
	MsgTTxnAlloc:       "txnAlloc",
	MsgTTxnBegin:       "txnBegin",
	MsgTTxnCommit:      "txnCommit",
	MsgTTxnAbort:       "txnAbort",
	MsgTTxnState:       "txnState",
	MsgTTxnFree:        "txnFree",
	MsgTCurCreate:      "cursorCreate",
	MsgTCurRead:        "cursorRead",
	MsgTCurSeek:        "cursorSeek",
	MsgTCurSeekRange:   "cursorSeekRange",
	MsgTCurUpdateView:  "cursorUpdateView",
	MsgTCurRebind:      "cursorRebind",
	MsgTCurDestroy:     "cursorDestroy",
	MsgTLCKAcquire:     "acquire",
	MsgTLCKRelease:     "release",
}
