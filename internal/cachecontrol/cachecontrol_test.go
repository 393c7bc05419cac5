package cachecontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cacheproxy/internal/httpmsg"
)

func hdrs(pairs ...string) []httpmsg.HeaderLine {
	var out []httpmsg.HeaderLine
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, httpmsg.HeaderLine{Key: httpmsg.CanonicalizeKey(pairs[i]), Value: pairs[i+1]})
	}
	return out
}

func TestParseResponseInfoMissingDateUncacheable(t *testing.T) {
	_, ok := ParseResponseInfo(hdrs("Cache-Control", "max-age=600"), time.Now(), time.Now())
	assert.False(t, ok, "expected uncacheable response without Date")
}

func TestParseResponseInfoMaxAge(t *testing.T) {
	date := time.Date(2018, 2, 28, 20, 51, 55, 0, time.UTC)
	reqTime := date
	respTime := date
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=100",
	), reqTime, respTime)
	require.True(t, ok, "expected cacheable response")
	assert.Equal(t, 100*time.Second, ri.FreshnessLifetime)
}

func TestFreshnessLifetimePrecedence(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=50, s-maxage=10",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	assert.Equal(t, 10*time.Second, ri.FreshnessLifetime, "expected s-maxage to win")
}

func TestMaxAgeZeroAlwaysStale(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=0",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	assert.True(t, ri.Expired(time.Now()), "expected max-age=0 entry to always be expired")
}

func TestExpiredImpliesCurrentAgeAtLeastLifetime(t *testing.T) {
	date := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=5",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	now := time.Now()
	if ri.Expired(now) {
		assert.GreaterOrEqual(t, ri.CurrentAge(now), ri.FreshnessLifetime)
	}
}

func TestCurrentAgeMonotonic(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=1000",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	t1 := time.Now()
	age1 := ri.CurrentAge(t1)
	t2 := t1.Add(3 * time.Second)
	age2 := ri.CurrentAge(t2)
	assert.GreaterOrEqual(t, age2-age1, t2.Sub(t1), "current age must advance at least as fast as wall time")
}

func TestNoStoreAndPrivateFlags(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "no-store, private",
	), date, date)
	require.True(t, ok, "expected cacheable (parseable) response")
	assert.True(t, ri.NoStore)
	assert.True(t, ri.Private)
}

func TestBadDeltaSecondsDropsDirective(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Cache-Control", "max-age=not-a-number",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	assert.Zero(t, ri.FreshnessLifetime, "expected dropped directive to leave lifetime at zero")
}

func TestParseRequestInfoValidators(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ci := ParseRequestInfo(hdrs(
		"If-Modified-Since", FormatHTTPDate(date),
		"If-None-Match", `"abc"`,
		"Cache-Control", "no-cache",
	))
	require.NotNil(t, ci.IfModifiedSince)
	assert.True(t, ci.IfModifiedSince.Equal(date))
	assert.Equal(t, `"abc"`, ci.IfNoneMatch)
	assert.True(t, ci.NoCache)
}

func TestBadDateFieldTreatedAsAbsent(t *testing.T) {
	date := time.Now().UTC().Truncate(time.Second)
	ri, ok := ParseResponseInfo(hdrs(
		"Date", FormatHTTPDate(date),
		"Last-Modified", "not a date",
	), date, date)
	require.True(t, ok, "expected cacheable response")
	assert.Nil(t, ri.LastModified, "expected Last-Modified to be dropped")
}
