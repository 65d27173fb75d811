package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/tKV/rpc/common"
)

// NewJSONSerializer creates a serializer for human readable messages.
// Byte fields are base64 encoded. Unknown fields are rejected when decoding.
func NewJSONSerializer() IRPCSerializer {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(&msg)
}

func (jsonCodec) Deserialize(b []byte, msg *common.Message) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var decoded common.Message
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("invalid json message: %w", err)
	}
	*msg = decoded
	return nil
}
