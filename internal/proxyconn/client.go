package proxyconn

import (
	"errors"
	"io"
	"net"

	"cacheproxy/internal/cache"
	"cacheproxy/internal/cachecontrol"
	"cacheproxy/internal/httpmsg"
	"cacheproxy/internal/logging"
)

// ServeClient owns conn for its whole lifetime: it serves one request
// after another until the peer closes, a fatal error occurs, or a
// CONNECT hands the socket off to a Tunnel.
func ServeClient(conn net.Conn, env *Env) {
	defer conn.Close()

	h := newHalfConn(conn)
	for {
		id := env.NextID()
		if !waitAndServeOne(h, id, conn, env) {
			return
		}
	}
}

// waitAndServeOne serves exactly one request on h. It returns false
// when the connection should end: EOF, a fatal error, or a CONNECT
// tunnel handoff that already took ownership of the socket.
func waitAndServeOne(h *halfConn, id uint64, conn net.Conn, env *Env) bool {
	if err := h.readMessage(); err != nil {
		if errors.Is(err, io.EOF) {
			env.Log.Entry(id, logging.EntryNote, "connection closed")
		} else {
			env.Log.Entry(id, logging.EntryError, "%s", err)
		}
		return false
	}

	if h.ambiguousFraming() {
		env.Log.Entry(id, logging.EntryNote, "request has both Content-Length and chunked Transfer-Encoding, chunked wins")
	}

	msg := &h.message
	if !checkProtocol(msg.StartLine[2]) {
		env.Log.Entry(id, logging.EntryError, "unsupported protocol")
		_ = h.writeMessage(http400)
		return false
	}

	env.Log.Entry(id, logging.EntryNone, "%q from %s @ %s",
		startLineText(msg.StartLine), conn.RemoteAddr(), nowUTC().Format("Mon Jan  2 15:04:05 2006"))

	tunneling := msg.StartLine[0] == "CONNECT"
	method := msg.StartLine[0]
	reqInfo := cachecontrol.ParseRequestInfo(msg.Headers)

	// Don't forward the browser's own caching-related fields, so a
	// 304 can't reach us for a request we never revalidated. A stale
	// cache hit re-attaches the cached entry's validators below.
	msg.RemoveHeader("If-Modified-Since")
	msg.RemoveHeader("If-None-Match")

	var cached *CacheItem
	if method == "GET" {
		cached = lookupCache(env, id, msg.StartLine[1])
		if cached != nil {
			cached = checkCached(env, id, cached, reqInfo, msg)
		}
	}

	var response *httpmsg.Message
	switch {
	case cached != nil:
		response = &cached.Message
	case tunneling:
		serveConnect(h, id, conn, env, msg)
		return false
	default:
		response = serveRemote(id, env, msg)
	}

	env.Log.Entry(id, logging.EntryNone, "Responding %q", startLineText(response.StartLine))
	if err := h.writeMessage(response); err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		return false
	}

	return true
}

// lookupCache returns the cached item for url, or nil on miss —
// including the foreign-slot-collision case, which is reported exactly
// like an empty slot.
func lookupCache(env *Env, id uint64, url string) *CacheItem {
	var item *CacheItem
	env.Cache.Access(url, func(a *cache.Accessor[*CacheItem]) {
		key, value, ok := a.Get()
		if !ok || key != url {
			env.Log.Entry(id, logging.EntryNone, "not in cache")
			return
		}
		item = value
	})
	return item
}

// checkCached decides whether a cache hit can be served as-is, or
// whether it needs revalidation — in which case it returns nil and
// attaches validators to the outgoing request headers.
func checkCached(env *Env, id uint64, item *CacheItem, reqInfo cachecontrol.RequestInfo, msg *httpmsg.Message) *CacheItem {
	ri := &item.Info
	stale := false
	if reqInfo.NoCache || ri.NoCache {
		env.Log.Entry(id, logging.EntryNone, "in cache, requires validation")
		stale = true
	} else if ri.Expired(nowUTC()) {
		env.Log.Entry(id, logging.EntryNone, "in cache, but expired")
		stale = true
	}

	if stale {
		if ri.LastModified != nil {
			msg.ReplaceHeader("If-Modified-Since", cachecontrol.FormatHTTPDate(*ri.LastModified))
		}
		if ri.ETag != "" {
			msg.ReplaceHeader("If-None-Match", ri.ETag)
		}
		return nil
	}

	env.Log.Entry(id, logging.EntryNone, "in cache, valid")
	return item
}
