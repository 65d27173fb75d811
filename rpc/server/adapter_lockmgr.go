package server

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/lockmgr"
	"github.com/ValentinKolb/tKV/rpc/common"
)

// NewLockManagerServerAdapter creates an adapter serving locks
func NewLockManagerServerAdapter(locks lockmgr.ILockManager) IRPCServerAdapter {
	return &lockMgrServerAdapter{locks: locks}
}

type lockMgrServerAdapter struct {
	locks lockmgr.ILockManager
}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	switch req.MsgType {
	case common.MsgTLCKAcquire:
		ok, ownerID, err := adapter.locks.AcquireLock(string(req.Key), req.Num)
		resp = common.NewResponse(req.MsgType, err)
		resp.Ok = ok
		resp.Value = ownerID
		return resp
	case common.MsgTLCKRelease:
		ok, err := adapter.locks.ReleaseLock(string(req.Key), req.Value)
		resp = common.NewResponse(req.MsgType, err)
		resp.Ok = ok
		return resp
	default:
		return common.NewErrorResponse(
			kvdb.NewError(kvdb.CodeInvalid, "rpc", "unsupported message type %s for a lock database", req.MsgType),
		)
	}
}
