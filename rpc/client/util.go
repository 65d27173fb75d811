package client

import (
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

const rpcOp = "rpc"

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the RPCStore and RPCLockMgr with composition pattern
type rpcClientAdapter struct {
	dbID       uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// connect connects t with config and returns the adapter for the database dbID
func connect(dbID uint64, config common.ClientConfig, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (rpcClientAdapter, error) {
	if err := t.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}
	return rpcClientAdapter{dbID: dbID, config: config, transport: t, serializer: s}, nil
}

// invoke sends req to the database of the adapter
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(a.dbID, req, a.transport, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests.
// Errors returned by the server are rebuilt as *kvdb.Error with their original code,
// transport and encoding failures are reported with kvdb.CodeEngine.
func invokeRPCRequest(dbID uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, &kvdb.Error{Code: kvdb.CodeInvalid, Op: rpcOp, Msg: "failed to serialize request", Err: err}
	}

	respBytes, err := transport.Send(dbID, reqBytes)
	if err != nil {
		Logger.Debugf("%s request to database %d failed: %v", req.MsgType, dbID, err)
		return nil, &kvdb.Error{Code: kvdb.CodeEngine, Op: rpcOp, Msg: "request failed", Err: err}
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, &kvdb.Error{Code: kvdb.CodeEngine, Op: rpcOp, Msg: "malformed response", Err: err}
	}

	if err := resp.ResponseError(); err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, kvdb.NewError(kvdb.CodeEngine, rpcOp, "error response without error")
	}

	if resp.MsgType != req.MsgType {
		return nil, kvdb.NewError(kvdb.CodeEngine, rpcOp, "unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
