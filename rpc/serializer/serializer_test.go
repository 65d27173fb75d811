package serializer

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled.
// Byte slices are either nil or non-empty, json and gob do not keep empty slices apart from nil.
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Put request
		{
			MsgType: common.MsgTKVPut,
			KVS:     "users",
			Key:     []byte("test-key"),
			Value:   []byte("test-value"),
			Txn:     7,
		},

		// Get response
		{
			MsgType: common.MsgTKVGet,
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// KVS create request
		{
			MsgType: common.MsgTKVSCreate,
			KVS:     "users",
			Params:  []string{"prefix.length=4", "suffix.length=2"},
		},

		// Cursor read response
		{
			MsgType: common.MsgTCurRead,
			Pairs: []store.Pair{
				{Key: []byte("a"), Value: []byte("1")},
				{Key: []byte("b"), Value: []byte{0, 1, 2}},
			},
			Ok: true,
		},

		// Cursor create request
		{
			MsgType: common.MsgTCurCreate,
			KVS:     "users",
			Key:     []byte("prefix"),
			Txn:     1 << 40,
			Flag:    true,
		},

		// Error response
		{
			MsgType: common.MsgTKVPut,
			Code:    4,
			ErrOp:   "kvs.put",
			Err:     "test error message",
		},

		// Message with all fields filled
		{
			MsgType: common.MsgTCurSeekRange,
			KVS:     "kvs",
			Key:     []byte("min"),
			Value:   []byte("max"),
			Params:  []string{"a=b"},
			Txn:     1,
			Cursor:  2,
			Num:     3,
			Flag:    true,
			Ok:      true,
			Pairs:   []store.Pair{{Key: []byte("k"), Value: []byte("v")}},
			Code:    1,
			ErrOp:   "cursor.seek_range",
			Err:     "bad range",
			Meta:    []byte(`{"home":"x"}`),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize into a dirty message, no field may leak through
				result := common.Message{Txn: 99, Err: "stale", Pairs: []store.Pair{{Key: []byte("x")}}}
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTLCKRelease; msgType++ {
				if msgType.String() == "unknown" {
					t.Errorf("Message type %d has no name", msgType)
				}

				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestBinaryEmptySlices tests that the binary format keeps empty slices apart from nil
func TestBinaryEmptySlices(t *testing.T) {
	serializer := NewBinarySerializer()

	msg := common.Message{
		MsgType: common.MsgTKVPut,
		Key:     []byte("k"),
		Value:   []byte{},
		Pairs:   []store.Pair{{Key: []byte("a"), Value: []byte{}}},
		Meta:    []byte{},
	}
	data, err := serializer.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	var result common.Message
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}

	if result.Value == nil || len(result.Value) != 0 {
		t.Errorf("Expected an empty, non-nil value, got %#v", result.Value)
	}
	if result.Meta == nil {
		t.Errorf("Expected an empty, non-nil meta")
	}
	if len(result.Pairs) != 1 || result.Pairs[0].Value == nil {
		t.Errorf("Expected one pair with an empty value, got %#v", result.Pairs)
	}

	// an absent value stays nil
	data, _ = serializer.Serialize(common.Message{MsgType: common.MsgTKVGet})
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Value != nil || result.Key != nil {
		t.Errorf("Expected nil key and value, got %#v / %#v", result.Key, result.Value)
	}

	// the decoded message does not alias the input buffer
	data, _ = serializer.Serialize(common.Message{MsgType: common.MsgTKVGet, Value: []byte("abc")})
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatal(err)
	}
	for i := range data {
		data[i] = 0
	}
	if !bytes.Equal(result.Value, []byte("abc")) {
		t.Errorf("Decoded value changed with the input buffer: %q", result.Value)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, byte(hasKey), 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, byte(hasValue), 0, 0, 0, 10},
			expectError: true,
		},
		{
			name:        "Truncated txn",
			data:        []byte{1, 0, byte(hasTxn), 0, 0, 0},
			expectError: true,
		},
		{
			name:        "Pair count exceeds data",
			data:        []byte{1, byte(hasPairs >> 8), byte(hasPairs & 0xff), 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "gob", "binary"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("Expected serializer %s, got %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("Expected an error for an unknown serializer")
	}
}
