// Package cachecontrol implements the RFC 7234 §4.2 freshness/age
// calculations and the RFC 7230 Cache-Control token parsing the proxy
// needs to decide whether a response can be served from or stored in
// the cache.
package cachecontrol

import (
	"strconv"
	"strings"
	"time"

	"cacheproxy/internal/httpmsg"
)

// HTTPTimeFormat is the IMF-fixdate layout used by Date, Expires,
// Last-Modified and If-Modified-Since.
const HTTPTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// deltaSecondsCeiling is the value an out-of-range delta-seconds field
// is clamped to rather than being dropped as a parse error — see
// DESIGN.md's resolution of the "delta-seconds overflow" open question.
const deltaSecondsCeiling = time.Duration(1<<31-1) * time.Second

// ResponseInfo holds everything derived from a response's headers that
// the proxy needs to decide freshness, per RFC 7234 §4.2.
type ResponseInfo struct {
	DateValue           time.Time
	RequestTime         time.Time
	ResponseTime        time.Time
	LastModified        *time.Time
	CorrectedInitialAge time.Duration
	FreshnessLifetime   time.Duration
	ETag                string
	NoCache             bool
	NoStore             bool
	Private             bool
}

// CurrentAge computes RFC 7234 §4.2.3's current_age at time now.
func (ri *ResponseInfo) CurrentAge(now time.Time) time.Duration {
	residentTime := now.Sub(ri.ResponseTime)
	return ri.CorrectedInitialAge + residentTime
}

// Expired reports whether the response has exceeded its freshness
// lifetime as of now.
func (ri *ResponseInfo) Expired(now time.Time) bool {
	return ri.CurrentAge(now) >= ri.FreshnessLifetime
}

// RequestInfo holds the caching-relevant fields of an incoming request.
type RequestInfo struct {
	IfModifiedSince *time.Time
	IfNoneMatch     string
	NoCache         bool
}

// ParseResponseInfo extracts a ResponseInfo from the headers of an
// already-parsed response message. It returns ok=false if the response
// has no Date header, in which case the response is uncacheable per
// and the returned ResponseInfo must not be used.
func ParseResponseInfo(headers []httpmsg.HeaderLine, requestTime, responseTime time.Time) (ResponseInfo, bool) {
	var ri ResponseInfo
	var expires *time.Time
	var dateValue *time.Time
	ageValue := time.Duration(0)
	var cacheControl string

	for _, h := range headers {
		switch h.Key {
		case "Age":
			if d, ok := parseDeltaSeconds(h.Value); ok {
				ageValue = d
			}
		case "Cache-Control":
			cacheControl = h.Value
		case "Date":
			if t, ok := parseHTTPDate(h.Value); ok {
				dateValue = &t
			}
		case "Etag":
			ri.ETag = h.Value
		case "Expires":
			if t, ok := parseHTTPDate(h.Value); ok {
				expires = &t
			}
		case "Last-Modified":
			if t, ok := parseHTTPDate(h.Value); ok {
				ri.LastModified = &t
			}
		}
	}

	if dateValue == nil {
		return ResponseInfo{}, false
	}

	ri.DateValue = *dateValue
	ri.RequestTime = requestTime
	ri.ResponseTime = responseTime

	apparentAge := responseTime.Sub(*dateValue)
	if apparentAge < 0 {
		apparentAge = 0
	}
	responseDelay := responseTime.Sub(requestTime)
	correctedAgeValue := ageValue + responseDelay
	if apparentAge > correctedAgeValue {
		ri.CorrectedInitialAge = apparentAge
	} else {
		ri.CorrectedInitialAge = correctedAgeValue
	}

	parseResponseCacheControl(&ri, cacheControl, expires)
	return ri, true
}

func parseResponseCacheControl(ri *ResponseInfo, cacheControl string, expires *time.Time) {
	var maxAge, sMaxage *time.Duration

	for _, field := range splitDirectives(cacheControl) {
		switch {
		case field == "no-cache":
			ri.NoCache = true
		case field == "no-store":
			ri.NoStore = true
		case field == "private":
			ri.Private = true
		case strings.HasPrefix(field, "max-age="):
			if d, ok := parseDeltaSeconds(field[len("max-age="):]); ok {
				maxAge = &d
			}
		case strings.HasPrefix(field, "s-maxage="):
			if d, ok := parseDeltaSeconds(field[len("s-maxage="):]); ok {
				sMaxage = &d
			}
		}
	}

	// RFC 7234 §4.2.1 precedence: s-maxage > max-age > Expires-Date > heuristic.
	switch {
	case sMaxage != nil:
		ri.FreshnessLifetime = *sMaxage
	case maxAge != nil:
		ri.FreshnessLifetime = *maxAge
	case expires != nil:
		ri.FreshnessLifetime = expires.Sub(ri.DateValue)
	case ri.LastModified != nil:
		ri.FreshnessLifetime = time.Since(*ri.LastModified) / 10
	default:
		ri.FreshnessLifetime = 0
	}
}

// ParseRequestInfo extracts a RequestInfo from the headers of an
// already-parsed request message.
func ParseRequestInfo(headers []httpmsg.HeaderLine) RequestInfo {
	var ci RequestInfo
	for _, h := range headers {
		switch h.Key {
		case "Cache-Control":
			for _, field := range splitDirectives(h.Value) {
				if field == "no-cache" {
					ci.NoCache = true
				}
			}
		case "If-Modified-Since":
			if t, ok := parseHTTPDate(h.Value); ok {
				ci.IfModifiedSince = &t
			}
		case "If-None-Match":
			ci.IfNoneMatch = h.Value
		}
	}
	return ci
}

func splitDirectives(cacheControl string) []string {
	if cacheControl == "" {
		return nil
	}
	parts := strings.Split(cacheControl, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseHTTPDate(s string) (time.Time, bool) {
	t, err := time.Parse(HTTPTimeFormat, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseDeltaSeconds parses a non-negative integer number of seconds. A
// value above deltaSecondsCeiling (2^31-1 seconds) is clamped to it
// rather than treated as a parse failure (see the package-level
// constant's doc comment); digits too large for a uint64 do not parse
// and the field is dropped.
func parseDeltaSeconds(s string) (time.Duration, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	if n > uint64(deltaSecondsCeiling/time.Second) {
		return deltaSecondsCeiling, true
	}
	return time.Duration(n) * time.Second, true
}

// FormatHTTPDate formats t in IMF-fixdate for use in Date/Expires/
// Last-Modified/If-Modified-Since headers.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(HTTPTimeFormat)
}
