package proxyconn

import (
	"errors"
	"io"
	"net"
	"time"

	"cacheproxy/internal/cache"
	"cacheproxy/internal/cachecontrol"
	"cacheproxy/internal/httpmsg"
	"cacheproxy/internal/httpurl"
	"cacheproxy/internal/logging"
	"cacheproxy/internal/tunnel"
)

// resolveTarget splits the request-URI via httpurl, rewriting msg's
// request-URI to origin-form (path only) in place, and returns the
// host:port to dial. This is start_resolve's "rewrites the client
// message's request-URI" side effect.
func resolveTarget(msg *httpmsg.Message) (dialAddr, host string, err error) {
	target := msg.StartLine[1]
	if msg.StartLine[0] == "CONNECT" {
		// CONNECT's target is already a bare "host:port" authority.
		host, _, splitErr := net.SplitHostPort(target)
		if splitErr != nil {
			return "", "", splitErr
		}
		return target, host, nil
	}
	u, err := httpurl.Parse(target)
	if err != nil {
		return "", "", err
	}
	msg.StartLine[1] = u.Path
	return net.JoinHostPort(u.Host, u.Port), u.Host, nil
}

// serveConnect resolves and dials the CONNECT target, writes a 200 to
// the client on success (502 on failure), and hands both sockets to a
// Tunnel for the rest of their lifetime.
func serveConnect(h *halfConn, id uint64, clientConn net.Conn, env *Env, msg *httpmsg.Message) {
	dialAddr, host, err := resolveTarget(msg)
	if err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		_ = h.writeMessage(http502)
		return
	}

	remoteConn, err := env.Dialer.Dial("tcp", dialAddr)
	if err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		_ = h.writeMessage(http502)
		return
	}

	env.Log.Entry(id, logging.EntryNone, "Responding %q", startLineText(http200.StartLine))
	if err := h.writeMessage(http200); err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		_ = remoteConn.Close()
		return
	}

	env.Log.Entry(id, logging.EntryNone, "tunnel established with %s", host)
	tunnel.Relay(clientConn, remoteConn)
	env.Log.Entry(id, logging.EntryNote, "tunnel closed")
}

// serveRemote resolves, connects, forwards the (possibly
// validator-augmented) request, reads the response, and decides whether
// to store it. On any failure it returns a stock error response rather
// than ending the connection, so the client always gets a reply.
func serveRemote(id uint64, env *Env, req *httpmsg.Message) *httpmsg.Message {
	requestURL := req.StartLine[1]
	dialAddr, host, err := resolveTarget(req)
	if err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		return http502
	}

	remoteConn, err := env.Dialer.Dial("tcp", dialAddr)
	if err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		return http502
	}
	defer remoteConn.Close()

	requestTime := nowUTC()
	env.Log.Entry(id, logging.EntryNone, "Requesting %q from %s", startLineText(req.StartLine), host)

	r := newHalfConn(remoteConn)
	if err := r.writeMessage(req); err != nil {
		env.Log.Entry(id, logging.EntryError, "%s", err)
		return http502
	}

	if err := r.readMessage(); err != nil {
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF),
			errors.Is(err, io.EOF) && r.parser.State == httpmsg.StateBody:
			// LENGTH/CHUNKED truncation: logged as an error, but the
			// partial body that did arrive is still delivered below.
			// (PLAIN framing treats EOF as normal completion and never
			// reaches here.)
			env.Log.Entry(id, logging.EntryError, "truncated response body")
		case errors.Is(err, io.EOF):
			// The origin closed before the body began.
			env.Log.Entry(id, logging.EntryNote, "connection closed")
		default:
			env.Log.Entry(id, logging.EntryError, "%s", err)
			return http502
		}
		if r.parser.State < httpmsg.StateBody {
			env.Log.Entry(id, logging.EntryError, "incomplete response")
			return http502
		}
	}

	if r.ambiguousFraming() {
		env.Log.Entry(id, logging.EntryNote, "response has both Content-Length and chunked Transfer-Encoding, chunked wins")
	}

	resp := &r.message
	if !checkProtocol(resp.StartLine[0]) {
		env.Log.Entry(id, logging.EntryError, "unsupported protocol")
		return http502
	}

	responseTime := nowUTC()
	env.Log.Entry(id, logging.EntryNone, "Received %q from %s", startLineText(resp.StartLine), host)

	status := resp.StartLine[1]
	ci, cacheable := isCacheable(env, id, req.StartLine[0], status, resp, requestTime, responseTime)
	if cacheable && storeCache(env, id, requestURL, status, resp, ci) {
		logStored(env, id, ci, responseTime)
	}

	return resp
}

func isCacheable(env *Env, id uint64, method, status string, resp *httpmsg.Message, requestTime, responseTime time.Time) (cachecontrol.ResponseInfo, bool) {
	if method != "GET" {
		env.Log.Entry(id, logging.EntryNone, "not cachable because request method is %s", method)
		return cachecontrol.ResponseInfo{}, false
	}
	if status != "200" && status != "304" {
		env.Log.Entry(id, logging.EntryNone, "not cachable because status code is %s", status)
		return cachecontrol.ResponseInfo{}, false
	}
	if len(resp.Body) > maxCacheableBody {
		env.Log.Entry(id, logging.EntryNone, "not cachable because body size is larger than %d", maxCacheableBody)
		return cachecontrol.ResponseInfo{}, false
	}
	ci, ok := cachecontrol.ParseResponseInfo(resp.Headers, requestTime, responseTime)
	if !ok {
		env.Log.Entry(id, logging.EntryNone, "not cachable because the response does not have a Date field")
		return cachecontrol.ResponseInfo{}, false
	}
	if ci.NoStore || ci.Private {
		env.Log.Entry(id, logging.EntryNone, "not cachable because no-store and/or private is set in Cache-Control")
		return cachecontrol.ResponseInfo{}, false
	}
	return ci, true
}

// storeCache implements the store policy: 200 overwrites the
// slot unconditionally; 304 updates only a slot that still holds this
// URL, preserving its body; a 304 with no matching slot is dropped.
func storeCache(env *Env, id uint64, requestURL, status string, resp *httpmsg.Message, ci cachecontrol.ResponseInfo) bool {
	stored := false
	env.Cache.Access(requestURL, func(a *cache.Accessor[*CacheItem]) {
		if status == "200" {
			item := &CacheItem{Message: *resp, Info: ci}
			a.Set(item)
			stored = true
			return
		}
		key, existing, ok := a.Get()
		if !ok || key != requestURL {
			env.Log.Entry(id, logging.EntryNone,
				"not cachable because the response is 304 and previous cache does not exist")
			return
		}
		existing.Message.Headers = resp.Headers
		existing.Info = ci
		stored = true
	})
	return stored
}

func logStored(env *Env, id uint64, ci cachecontrol.ResponseInfo, responseTime time.Time) {
	if ci.NoCache {
		env.Log.Entry(id, logging.EntryNone, "cached, but requires re-validation")
		return
	}
	expires := responseTime.Add(ci.FreshnessLifetime)
	env.Log.Entry(id, logging.EntryNone, "cached, expires at %s", cachecontrol.FormatHTTPDate(expires))
}
