package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/tKV/rpc/common"
	"sync"
)

// NewGOBSerializer creates a serializer writing every message as a self-describing gob stream.
// Encode buffers are pooled, the returned slice is always a fresh copy.
func NewGOBSerializer() IRPCSerializer {
	return &gobCodec{
		buffers: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

type gobCodec struct {
	buffers sync.Pool
}

func (g *gobCodec) Serialize(msg common.Message) ([]byte, error) {
	buf := g.buffers.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		g.buffers.Put(buf)
	}()

	if err := gob.NewEncoder(buf).Encode(&msg); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (g *gobCodec) Deserialize(b []byte, msg *common.Message) error {
	var decoded common.Message
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&decoded); err != nil {
		return err
	}
	*msg = decoded
	return nil
}
