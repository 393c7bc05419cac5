// Package proxyconn implements the client-facing and origin-facing
// half-connections: the read/parse/decide/write pipeline shared by both,
// and the policy that differs between them (cache lookup, validator
// handling, store-on-response).
//
// Rather than chaining asynchronous completion handlers, each
// half-connection's pipeline here is a single goroutine that blocks on
// each I/O call in turn. Serializing "handlers for one connection never
// run concurrently" falls out for free: one goroutine, one connection,
// no handoff needed.
package proxyconn

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"cacheproxy/internal/cache"
	"cacheproxy/internal/cachecontrol"
	"cacheproxy/internal/httpmsg"
	"cacheproxy/internal/logging"
)

// CacheItem is what a cache slot holds: a stored response and the
// cache-control bookkeeping needed to judge its freshness.
type CacheItem struct {
	Message httpmsg.Message
	Info    cachecontrol.ResponseInfo
}

// maxCacheableBody bounds how large a response body may be and still
// be stored.
const maxCacheableBody = 2 * 1024 * 1024

func stockMessage(status, reason string) *httpmsg.Message {
	m := &httpmsg.Message{StartLine: [3]string{"HTTP/1.1", status, reason}}
	if status != "200" {
		m.AddHeader("Content-Length", "0")
	}
	return m
}

var (
	http200 = stockMessage("200", "OK")
	http400 = stockMessage("400", "Invalid Request")
	http502 = stockMessage("502", "Bad Gateway")
)

// Env bundles the resources every half-connection needs and that are
// shared across the whole server: the cache, the synchronized log, the
// id counter, and the dialer used to reach origins.
type Env struct {
	Cache     *cache.Cache[*CacheItem]
	Log       *logging.DefaultLogger
	IDCounter *atomic.Uint64
	Dialer    net.Dialer
}

// NextID hands out a fresh, never-zero connection id. 0 is reserved for
// "no id" in log output.
func (e *Env) NextID() uint64 {
	return e.IDCounter.Add(1)
}

// halfConn is the machinery shared by the client and remote sides: a
// socket, a buffered reader over it, and a parser bound to one message
// at a time.
type halfConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	message httpmsg.Message
	parser  *httpmsg.Parser
}

func newHalfConn(conn net.Conn) *halfConn {
	h := &halfConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
	h.parser = httpmsg.NewParser(&h.message)
	return h
}

// readMessage resets the parser onto a fresh message and drives it to
// ACCEPT, one parseStep at a time — the synchronous equivalent of the
// original's on_read_header/on_read_body handler chain.
func (h *halfConn) readMessage() error {
	h.parser.Reset()
	for h.parser.State != httpmsg.StateAccept {
		if err := h.parser.ParseStep(h.reader); err != nil {
			return err
		}
	}
	return nil
}

// ambiguousFraming reports whether the last parsed message carried both
// Content-Length and a chunked Transfer-Encoding.
func (h *halfConn) ambiguousFraming() bool {
	return h.parser.AmbiguousFraming
}

func (h *halfConn) writeMessage(m *httpmsg.Message) error {
	_, err := m.WriteAndFlush(h.conn)
	return err
}

func checkProtocol(protocol string) bool {
	return protocol == "HTTP/1.0" || protocol == "HTTP/1.1"
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// startLineText joins a start-line triple as it appears on the wire,
// for use in log lines.
func startLineText(sl [3]string) string {
	return sl[0] + " " + sl[1] + " " + sl[2]
}
