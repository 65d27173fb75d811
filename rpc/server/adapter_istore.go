package server

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/store"
	"github.com/ValentinKolb/tKV/rpc/common"
)

// NewIStoreServerAdapter creates an adapter serving s
func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	s := adapter.store
	txn := store.TxnID(req.Txn)
	cur := store.CursorID(req.Cursor)

	switch req.MsgType {

	// catalog

	case common.MsgTKVSCreate:
		return common.NewResponse(req.MsgType, s.KVSCreate(req.KVS, req.Params...))
	case common.MsgTKVSDrop:
		return common.NewResponse(req.MsgType, s.KVSDrop(req.KVS))
	case common.MsgTKVSNames:
		names, err := s.KVSNames()
		resp := common.NewResponse(req.MsgType, err)
		resp.Params = names
		return resp
	case common.MsgTSync:
		return common.NewResponse(req.MsgType, s.Sync())
	case common.MsgTInfo:
		return common.NewInfoResponse(s.Info())

	// key-value

	case common.MsgTKVPut:
		return common.NewResponse(req.MsgType, s.Put(txn, req.KVS, req.Key, req.Value))
	case common.MsgTKVGet:
		val, ok, err := s.Get(txn, req.KVS, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Ok = ok
		if ok && val == nil {
			val = []byte{}
		}
		resp.Value = val
		return resp
	case common.MsgTKVDelete:
		return common.NewResponse(req.MsgType, s.Delete(txn, req.KVS, req.Key))
	case common.MsgTKVPrefixDelete:
		n, err := s.PrefixDelete(txn, req.KVS, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Num = uint64(n)
		return resp
	case common.MsgTKVPrefixProbe:
		res, err := s.PrefixProbe(txn, req.KVS, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Num = uint64(res.Cardinality)
		resp.Key = res.Key
		resp.Value = res.Value
		return resp

	// transactions

	case common.MsgTTxnAlloc:
		id, err := s.TxnAlloc()
		resp := common.NewResponse(req.MsgType, err)
		resp.Txn = uint64(id)
		return resp
	case common.MsgTTxnBegin:
		return common.NewResponse(req.MsgType, s.TxnBegin(txn))
	case common.MsgTTxnCommit:
		return common.NewResponse(req.MsgType, s.TxnCommit(txn))
	case common.MsgTTxnAbort:
		return common.NewResponse(req.MsgType, s.TxnAbort(txn))
	case common.MsgTTxnState:
		state, err := s.TxnState(txn)
		resp := common.NewResponse(req.MsgType, err)
		resp.Num = uint64(state)
		return resp
	case common.MsgTTxnFree:
		return common.NewResponse(req.MsgType, s.TxnFree(txn))

	// cursors

	case common.MsgTCurCreate:
		id, err := s.CursorCreate(txn, req.KVS, req.Key, req.Flag)
		resp := common.NewResponse(req.MsgType, err)
		resp.Cursor = uint64(id)
		return resp
	case common.MsgTCurRead:
		pairs, eof, err := s.CursorRead(cur, int(req.Num))
		resp := common.NewResponse(req.MsgType, err)
		resp.Pairs = pairs
		resp.Ok = eof
		return resp
	case common.MsgTCurSeek:
		found, err := s.CursorSeek(cur, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Key = found
		return resp
	case common.MsgTCurSeekRange:
		found, err := s.CursorSeekRange(cur, req.Key, req.Value)
		resp := common.NewResponse(req.MsgType, err)
		resp.Key = found
		return resp
	case common.MsgTCurUpdateView:
		return common.NewResponse(req.MsgType, s.CursorUpdateView(cur))
	case common.MsgTCurRebind:
		return common.NewResponse(req.MsgType, s.CursorRebind(cur, txn, req.Flag))
	case common.MsgTCurDestroy:
		return common.NewResponse(req.MsgType, s.CursorDestroy(cur))

	default:
		return common.NewErrorResponse(
			kvdb.NewError(kvdb.CodeInvalid, "rpc", "unsupported message type %s for a store database", req.MsgType),
		)
	}
}
