package client

import (
	"github.com/ValentinKolb/tKV/lib/lockmgr"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/transport"
)

// NewRPCLockMgr creates a lock manager client for the lockmgr database dbID.
// The transport is connected with config, closing it is up to the caller.
// Lock expiry is decided by the server clock.
func NewRPCLockMgr(
	dbID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	adapter, err := connect(dbID, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcLockMgr{adapter}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// AcquireLock sends the expiry in seconds as Num, the server answers with Ok and the owner id
func (l *rpcLockMgr) AcquireLock(key string, timeout uint64) (bool, []byte, error) {
	resp, err := l.invoke(&common.Message{
		MsgType: common.MsgTLCKAcquire,
		Key:     []byte(key),
		Num:     timeout,
	})
	switch {
	case err != nil:
		return false, nil, err
	case !resp.Ok:
		return false, nil, nil
	}
	return true, resp.Value, nil
}

// ReleaseLock sends the owner id as Value
func (l *rpcLockMgr) ReleaseLock(key string, ownerID []byte) (bool, error) {
	resp, err := l.invoke(&common.Message{
		MsgType: common.MsgTLCKRelease,
		Key:     []byte(key),
		Value:   ownerID,
	})
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
