package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: [1 byte MsgType][2 byte flags] followed by the present fields in flag order.
// Byte fields and strings are prefixed with a 4 byte length, integers are 8 bytes big endian.
// A present byte field of length 0 decodes to an empty, non-nil slice.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKVS uint16 = 1 << iota
	hasKey
	hasValue
	hasParams
	hasTxn
	hasCursor
	hasNum
	hasFlag
	hasOk
	hasPairs
	hasCode
	hasErrOp
	hasErr
	hasMeta
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	if msg.KVS != "" {
		flags |= hasKVS
		result = appendBytes(result, []byte(msg.KVS))
	}
	if msg.Key != nil {
		flags |= hasKey
		result = appendBytes(result, msg.Key)
	}
	if msg.Value != nil {
		flags |= hasValue
		result = appendBytes(result, msg.Value)
	}
	if len(msg.Params) > 0 {
		flags |= hasParams
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Params)))
		for _, p := range msg.Params {
			result = appendBytes(result, []byte(p))
		}
	}
	if msg.Txn != 0 {
		flags |= hasTxn
		result = binary.BigEndian.AppendUint64(result, msg.Txn)
	}
	if msg.Cursor != 0 {
		flags |= hasCursor
		result = binary.BigEndian.AppendUint64(result, msg.Cursor)
	}
	if msg.Num != 0 {
		flags |= hasNum
		result = binary.BigEndian.AppendUint64(result, msg.Num)
	}
	if msg.Flag {
		flags |= hasFlag
	}
	if msg.Ok {
		flags |= hasOk
	}
	if len(msg.Pairs) > 0 {
		flags |= hasPairs
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Pairs)))
		for _, p := range msg.Pairs {
			result = appendBytes(result, p.Key)
			result = appendBytes(result, p.Value)
		}
	}
	if msg.Code != 0 {
		flags |= hasCode
		result = binary.BigEndian.AppendUint32(result, msg.Code)
	}
	if msg.ErrOp != "" {
		flags |= hasErrOp
		result = appendBytes(result, []byte(msg.ErrOp))
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendBytes(result, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = appendBytes(result, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize}

	if flags&hasKVS != 0 {
		msg.KVS = string(r.bytes("kvs"))
	}
	if flags&hasKey != 0 {
		msg.Key = r.bytes("key")
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasParams != 0 {
		n := r.count("params", 4)
		msg.Params = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Params = append(msg.Params, string(r.bytes("param")))
		}
	}
	if flags&hasTxn != 0 {
		msg.Txn = r.uint64("txn")
	}
	if flags&hasCursor != 0 {
		msg.Cursor = r.uint64("cursor")
	}
	if flags&hasNum != 0 {
		msg.Num = r.uint64("num")
	}
	msg.Flag = flags&hasFlag != 0
	msg.Ok = flags&hasOk != 0
	if flags&hasPairs != 0 {
		n := r.count("pairs", 8)
		msg.Pairs = make([]store.Pair, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Pairs = append(msg.Pairs, store.Pair{Key: r.bytes("pair key"), Value: r.bytes("pair value")})
		}
	}
	if flags&hasCode != 0 {
		msg.Code = r.uint32("code")
	}
	if flags&hasErrOp != 0 {
		msg.ErrOp = string(r.bytes("err op"))
	}
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("err"))
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}
	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize + 4*5 + 8*3 + 4 // fixed upper bound for the scalar fields
	size += len(msg.KVS) + len(msg.Key) + len(msg.Value) + len(msg.ErrOp) + len(msg.Err) + len(msg.Meta)
	size += 4
	for _, p := range msg.Params {
		size += 4 + len(p)
	}
	size += 4
	for _, p := range msg.Pairs {
		size += 8 + len(p.Key) + len(p.Value)
	}
	return size
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// reader decodes fields from data, the first error sticks and turns later reads into no-ops
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(field string, n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *reader) uint32(field string) uint32 {
	if !r.need(field, 4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) uint64(field string) uint64 {
	if !r.need(field, 8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// count reads an element count, rejecting counts the remaining data cannot hold
func (r *reader) count(field string, minElemSize int) int {
	n := int(r.uint32(field))
	if r.err == nil && n > (len(r.data)-r.pos)/minElemSize {
		r.err = fmt.Errorf("data too short for %d %s", n, field)
		return 0
	}
	return n
}

// bytes reads a length prefixed field into a new slice
func (r *reader) bytes(field string) []byte {
	n := int(r.uint32(field + " length"))
	if !r.need(field, n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}
