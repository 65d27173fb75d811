package kvdb

import (
	"context"
	"errors"
	"github.com/ValentinKolb/tKV/lib/engine"
	_ "github.com/ValentinKolb/tKV/lib/engine/engines/memory"
	_ "github.com/ValentinKolb/tKV/lib/engine/engines/pebble"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("kvdb")

// loggers whose level follows the logging.* params
var libraryLoggers = []string{"kvdb", "engine", "conflict", "store", "lockmgr"}

// --------------------------------------------------------------------------
// Runtime Gate
// --------------------------------------------------------------------------

// runtimeState is the process-wide state between Init and Fini
type runtimeState struct {
	mu     sync.Mutex // serializes Init, Fini and KVDB open/close/drop
	active atomic.Bool
	params resolved
	socket *http.Server
	dbs    *xsync.MapOf[string, *KVDB] // open KVDBs by home
}

var rt = runtimeState{dbs: xsync.NewMapOf[string, *KVDB]()}

// Init opens the process-wide window in which KVDBs can be used.
// configFile (optional) is merged first, params ("key=value") override it.
// Calling Init again before Fini fails with CodeBusy.
func Init(configFile string, params ...string) error {
	const op = "init"

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.active.Load() {
		return NewError(CodeBusy, op, "runtime is already initialized")
	}

	p := NewParams()
	if configFile != "" {
		if err := p.FromFile(configFile); err != nil {
			return err
		}
	}
	if err := p.Parse(params...); err != nil {
		return err
	}
	r, err := globalParams.resolve(op, p)
	if err != nil {
		return err
	}

	applyLogLevel(r)

	if r.Bool("socket.enabled") {
		srv, err := startSocket(r.String("socket.address"))
		if err != nil {
			return &Error{Code: CodeInvalid, Op: op, Msg: "failed to start metrics socket", Err: err}
		}
		rt.socket = srv
	}

	rt.params = r
	rt.active.Store(true)
	Logger.Infof("runtime initialized (engine=%s, version=%s)", r.String("engine"), Version().String)
	return nil
}

// Fini closes all open KVDBs and the process-wide window. Calling it without Init is a no-op.
func Fini() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.active.Load() {
		return
	}

	rt.dbs.Range(func(home string, db *KVDB) bool {
		if err := db.close(); err != nil {
			Logger.Warningf("failed to close kvdb %q: %v", home, err)
		}
		rt.dbs.Delete(home)
		return true
	})

	if rt.socket != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rt.socket.Shutdown(ctx); err != nil {
			Logger.Warningf("failed to stop metrics socket: %v", err)
		}
		cancel()
		rt.socket = nil
	}

	rt.active.Store(false)
	Logger.Infof("runtime finalized")
}

// Initialized reports if the window is open
func Initialized() bool {
	return rt.active.Load()
}

// Param returns the value of a global parameter
func Param(name string) (string, error) {
	const op = "param"
	if err := checkInit(op); err != nil {
		return "", err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.params.Format(op, name)
}

func checkInit(op string) error {
	if !rt.active.Load() {
		return &Error{Code: CodeNotInitialized, Op: op, Msg: "kvdb runtime is not initialized"}
	}
	return nil
}

// engineProvider returns the provider selected by the engine param
func engineProvider(op string) (engine.Provider, error) {
	rt.mu.Lock()
	impl := engine.Implementation(rt.params.String("engine"))
	rt.mu.Unlock()

	p, err := engine.Lookup(impl)
	if err != nil {
		return nil, &Error{Code: CodeInvalid, Op: op, Err: err}
	}
	return p, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func applyLogLevel(r resolved) {
	level := logger.INFO
	switch r.String("logging.level") {
	case "debug":
		level = logger.DEBUG
	case "warning":
		level = logger.WARNING
	case "error":
		level = logger.ERROR
	}
	if !r.Bool("logging.enabled") {
		level = logger.CRITICAL
	}
	for _, name := range libraryLoggers {
		logger.GetLogger(name).SetLevel(level)
	}
}

func startSocket(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		WriteMetrics(w)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics socket stopped: %v", err)
		}
	}()
	Logger.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return srv, nil
}
