// Package engine wires the cache, the synchronized log, and the
// connection id counter into a running server: an acceptor feeding a
// fixed-size worker pool, shut down gracefully on SIGINT/SIGTERM.
package engine

import (
	"context"
	"net"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cacheproxy/internal/blacklist"
	"cacheproxy/internal/cache"
	"cacheproxy/internal/logging"
	"cacheproxy/internal/proxyconn"
)

// workerCount is fixed at 4.
const workerCount = 4

// Engine owns the resources shared by every connection task.
type Engine struct {
	env       *proxyconn.Env
	port      int
	blacklist blacklist.List
	listener  net.Listener
	addr      atomic.Value // net.Addr
}

// New constructs an Engine listening on port with a cache of cacheSize
// slots, logging through log, refusing connections from any address in
// banned.
func New(port, cacheSize int, log *logging.DefaultLogger, banned blacklist.List) *Engine {
	return &Engine{
		port:      port,
		blacklist: banned,
		env: &proxyconn.Env{
			Cache:     cache.New[*proxyconn.CacheItem](cacheSize),
			Log:       log,
			IDCounter: new(atomic.Uint64),
		},
	}
}

// Run listens on the configured port and blocks until the context is
// canceled or a listen error occurs. It also installs its own
// SIGINT/SIGTERM handling so a caller that just wants "run until
// Ctrl-C" can pass context.Background().
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(e.port)))
	if err != nil {
		return err
	}
	e.listener = ln
	e.addr.Store(ln.Addr())

	e.env.Log.Entry(0, logging.EntryNote, "server started")

	jobs := make(chan net.Conn)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			return e.workerLoop(gctx, jobs)
		})
	}

	g.Go(func() error {
		return e.acceptLoop(gctx, jobs)
	})

	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})

	err = g.Wait()
	e.env.Log.Entry(0, logging.EntryNote, "server exited")
	return err
}

// Addr returns the listener's address once Run has started listening,
// or nil beforehand. Intended for tests that need to dial a
// dynamically assigned port.
func (e *Engine) Addr() net.Addr {
	v, _ := e.addr.Load().(net.Addr)
	return v
}

func (e *Engine) acceptLoop(ctx context.Context, jobs chan<- net.Conn) error {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if e.blacklist.Blocks(conn) {
			e.env.Log.Entry(0, logging.EntryNote, "rejected blacklisted address %s", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		select {
		case jobs <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}
	}
}

// workerLoop is one of the fixed pool of goroutines draining jobs. A
// panic surfacing from a single connection's handler is caught and
// logged so the worker resumes, mirroring work_thread's try/catch
// around io_service.run().
func (e *Engine) workerLoop(ctx context.Context, jobs <-chan net.Conn) error {
	for {
		select {
		case conn := <-jobs:
			e.handleConn(ctx, conn)
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) handleConn(ctx context.Context, conn net.Conn) {
	// Closing the socket on shutdown unblocks ServeClient so the worker
	// can return and Run can finish.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			e.env.Log.Entry(0, logging.EntryError, "worker recovered: %v", r)
		}
	}()
	proxyconn.ServeClient(conn, e.env)
}

