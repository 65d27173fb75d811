package serializer

import (
	"fmt"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
	"testing"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	batch := make([]store.Pair, 64)
	for i := range batch {
		batch[i] = store.Pair{Key: []byte(fmt.Sprintf("key-%04d", i)), Value: make([]byte, 100)}
	}

	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"SmallGet": {
			MsgType: common.MsgTKVGet,
			KVS:     "kvs",
			Key:     []byte("k"),
		},
		"SmallPut": {
			MsgType: common.MsgTKVPut,
			KVS:     "kvs",
			Key:     []byte("key"),
			Value:   []byte("v"),
		},
		"LargePut": {
			MsgType: common.MsgTKVPut,
			KVS:     "kvs",
			Key:     []byte("key"),
			Value:   make([]byte, 16*1024),
			Txn:     42,
		},
		"CursorBatch": {
			MsgType: common.MsgTCurRead,
			Pairs:   batch,
		},
		"ErrorMessage": {
			MsgType: common.MsgTKVPut,
			Code:    4,
			ErrOp:   "kvs.put",
			Err:     "write conflicts with an active transaction",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		serializer := factory()
		for msgName, msg := range messages {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}

			b.Run(name+"_"+msgName, func(b *testing.B) {
				b.ReportMetric(float64(len(data)), "bytes")
				for i := 0; i < b.N; i++ {
					var msg common.Message
					if err := serializer.Deserialize(data, &msg); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
