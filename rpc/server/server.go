package server

import (
	"fmt"
	"github.com/ValentinKolb/tKV/lib/kvdb"
	"github.com/ValentinKolb/tKV/lib/lockmgr"
	"github.com/ValentinKolb/tKV/lib/store/lstore"
	"github.com/ValentinKolb/tKV/rpc/common"
	"github.com/ValentinKolb/tKV/rpc/serializer"
	"github.com/ValentinKolb/tKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
)

var Logger = logger.GetLogger("rpc")

// serverDatabase is a KVDB served by the RPC server together with the adapter
// that handles requests for it
type serverDatabase struct {
	Store   lstore.Store
	Adapter IRPCServerAdapter
}

// RPCServer serves the configured databases over a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	dbs        *xsync.MapOf[uint64, serverDatabase]

	initDone chan struct{} // closed once init finished
	initErr  error

	mu          sync.Mutex
	ownsRuntime bool // the server called kvdb.Init and has to call kvdb.Fini
	closed      bool
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		dbs:        xsync.NewMapOf[uint64, serverDatabase](),
		initDone:   make(chan struct{}),
	}
}

// Serve opens all databases and serves requests until Close is called.
// The kvdb runtime is initialized unless it already is.
func (s *RPCServer) Serve() error {
	s.initErr = s.init()
	close(s.initDone)
	if s.initErr != nil {
		_ = s.Close()
		return s.initErr
	}
	return s.transport.Listen(s.config)
}

// Addr blocks until the transport listens and returns its address, nil if Serve failed
func (s *RPCServer) Addr() net.Addr {
	<-s.initDone
	if s.initErr != nil {
		return nil
	}
	return s.transport.Addr()
}

// Close stops the transport and closes all databases.
// If Serve initialized the kvdb runtime it is finalized as well.
func (s *RPCServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.transport.Close()

	s.dbs.Range(func(id uint64, db serverDatabase) bool {
		if cErr := db.Store.Close(); cErr != nil {
			Logger.Warningf("failed to close database %d: %v", id, cErr)
		}
		s.dbs.Delete(id)
		return true
	})

	if s.ownsRuntime {
		kvdb.Fini()
		s.ownsRuntime = false
	}
	Logger.Infof("RPC server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("server is closed")
	}

	if err := s.config.Validate(); err != nil {
		return err
	}

	if !kvdb.Initialized() {
		// explicit params override the log level
		params := append([]string{"logging.level=" + common.KVDBLogLevel(s.config.LogLevel)}, s.config.KVDBParams...)
		if err := kvdb.Init(s.config.KVDBConfigFile, params...); err != nil {
			return fmt.Errorf("failed to initialize kvdb runtime: %w", err)
		}
		s.ownsRuntime = true
	}

	Logger.Infof("Starting RPC server")
	Logger.Infof("%s", s.config.String())

	for _, dbConfig := range s.config.Databases {
		db, err := openDatabase(dbConfig)
		if err != nil {
			return fmt.Errorf("failed to open database %d: %w", dbConfig.ID, err)
		}
		s.dbs.Store(dbConfig.ID, db)
		Logger.Infof("serving %s database %d from %s", dbConfig.Type, dbConfig.ID, dbConfig.Home)
	}

	s.registerTransportHandler()
	return nil
}

// openDatabase opens (and optionally creates) the KVDB of a database config
func openDatabase(config common.DatabaseConfig) (serverDatabase, error) {
	if config.Create {
		if err := kvdb.Create(config.Home); err != nil && kvdb.CodeOf(err) != kvdb.CodeExists {
			return serverDatabase{}, err
		}
	}

	st, err := lstore.NewLocalStore(func() (*kvdb.KVDB, error) {
		return kvdb.Open(config.Home, config.Params...)
	})
	if err != nil {
		return serverDatabase{}, err
	}

	switch config.Type {
	case common.DatabaseTypeLockMgr:
		locks, err := lockmgr.NewLockManager(st, config.LockKVS)
		if err != nil {
			_ = st.Close()
			return serverDatabase{}, err
		}
		return serverDatabase{Store: st, Adapter: NewLockManagerServerAdapter(locks)}, nil
	default:
		return serverDatabase{Store: st, Adapter: NewIStoreServerAdapter(st)}, nil
	}
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(dbID uint64, req []byte) []byte {
		var respMsg *common.Message

		db, ok := s.dbs.Load(dbID)
		if !ok {
			respMsg = common.NewErrorResponse(kvdb.NewError(kvdb.CodeNotFound, "rpc", "database %d not found", dbID))
		} else {
			var msg common.Message
			if err := s.serializer.Deserialize(req, &msg); err != nil {
				respMsg = common.NewErrorResponse(kvdb.NewError(kvdb.CodeInvalid, "rpc", "failed to deserialize request: %v", err))
			} else {
				respMsg = db.Adapter.Handle(&msg)
			}
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				kvdb.NewError(kvdb.CodeEngine, "rpc", "failed to serialize response: %v", err),
			))
		}
		return val
	})
}
