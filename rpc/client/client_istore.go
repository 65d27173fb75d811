package client

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/transport"
)

// NewRPCStore creates a new RPC store for the store database dbID.
// The transport is connected with config, closing it is up to the caller.
// Transaction and cursor handles live on the server and are only valid for this database.
func NewRPCStore(
	dbID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	adapter, err := connect(dbID, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// nonNil turns a nil value into an empty one, encoders may drop empty values
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) KVSCreate(name string, params ...string) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTKVSCreate, KVS: name, Params: params})
	return err
}

func (i *rpcStore) KVSDrop(name string) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTKVSDrop, KVS: name})
	return err
}

func (i *rpcStore) KVSNames() ([]string, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTKVSNames})
	if err != nil {
		return nil, err
	}
	if resp.Params == nil {
		return []string{}, nil
	}
	return resp.Params, nil
}

func (i *rpcStore) Sync() error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTSync})
	return err
}

func (i *rpcStore) Info() (kvdb.Info, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTInfo})
	if err != nil {
		return kvdb.Info{}, err
	}
	return resp.Info()
}

func (i *rpcStore) Put(txn store.TxnID, kvs string, key, value []byte) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTKVPut, Txn: uint64(txn), KVS: kvs, Key: key, Value: value})
	return err
}

func (i *rpcStore) Get(txn store.TxnID, kvs string, key []byte) ([]byte, bool, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTKVGet, Txn: uint64(txn), KVS: kvs, Key: key})
	if err != nil || !resp.Ok {
		return nil, false, err
	}
	return nonNil(resp.Value), true, nil
}

func (i *rpcStore) Delete(txn store.TxnID, kvs string, key []byte) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTKVDelete, Txn: uint64(txn), KVS: kvs, Key: key})
	return err
}

func (i *rpcStore) PrefixDelete(txn store.TxnID, kvs string, prefix []byte) (int, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTKVPrefixDelete, Txn: uint64(txn), KVS: kvs, Key: prefix})
	if err != nil {
		return 0, err
	}
	return int(resp.Num), nil
}

func (i *rpcStore) PrefixProbe(txn store.TxnID, kvs string, prefix []byte) (kvdb.ProbeResult, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTKVPrefixProbe, Txn: uint64(txn), KVS: kvs, Key: prefix})
	if err != nil {
		return kvdb.ProbeResult{}, err
	}
	res := kvdb.ProbeResult{Cardinality: kvdb.Cardinality(resp.Num)}
	if res.Cardinality != kvdb.ProbeZero {
		res.Key, res.Value = resp.Key, nonNil(resp.Value)
		res.KeyLength, res.ValueLength = len(res.Key), len(res.Value)
	}
	return res, nil
}

func (i *rpcStore) TxnAlloc() (store.TxnID, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTTxnAlloc})
	if err != nil {
		return store.NoTxn, err
	}
	return store.TxnID(resp.Txn), nil
}

func (i *rpcStore) TxnBegin(txn store.TxnID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTTxnBegin, Txn: uint64(txn)})
	return err
}

func (i *rpcStore) TxnCommit(txn store.TxnID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTTxnCommit, Txn: uint64(txn)})
	return err
}

func (i *rpcStore) TxnAbort(txn store.TxnID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTTxnAbort, Txn: uint64(txn)})
	return err
}

func (i *rpcStore) TxnState(txn store.TxnID) (kvdb.TxnState, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTTxnState, Txn: uint64(txn)})
	if err != nil {
		return kvdb.TxnInvalid, err
	}
	return kvdb.TxnState(resp.Num), nil
}

func (i *rpcStore) TxnFree(txn store.TxnID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTTxnFree, Txn: uint64(txn)})
	return err
}

func (i *rpcStore) CursorCreate(txn store.TxnID, kvs string, filter []byte, reverse bool) (store.CursorID, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTCurCreate, Txn: uint64(txn), KVS: kvs, Key: filter, Flag: reverse})
	if err != nil {
		return 0, err
	}
	return store.CursorID(resp.Cursor), nil
}

func (i *rpcStore) CursorRead(cur store.CursorID, n int) ([]store.Pair, bool, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTCurRead, Cursor: uint64(cur), Num: uint64(max(n, 0))})
	if err != nil {
		return nil, false, err
	}
	pairs := resp.Pairs
	if pairs == nil {
		pairs = []store.Pair{}
	}
	for j := range pairs {
		pairs[j].Value = nonNil(pairs[j].Value)
	}
	return pairs, resp.Ok, nil
}

func (i *rpcStore) CursorSeek(cur store.CursorID, key []byte) ([]byte, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTCurSeek, Cursor: uint64(cur), Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Key, nil
}

func (i *rpcStore) CursorSeekRange(cur store.CursorID, min, max []byte) ([]byte, error) {
	resp, err := i.invoke(&common.Message{MsgType: common.MsgTCurSeekRange, Cursor: uint64(cur), Key: min, Value: max})
	if err != nil {
		return nil, err
	}
	return resp.Key, nil
}

func (i *rpcStore) CursorUpdateView(cur store.CursorID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTCurUpdateView, Cursor: uint64(cur)})
	return err
}

func (i *rpcStore) CursorRebind(cur store.CursorID, txn store.TxnID, sticky bool) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTCurRebind, Cursor: uint64(cur), Txn: uint64(txn), Flag: sticky})
	return err
}

func (i *rpcStore) CursorDestroy(cur store.CursorID) error {
	_, err := i.invoke(&common.Message{MsgType: common.MsgTCurDestroy, Cursor: uint64(cur)})
	return err
}
