package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSecurityEventTypes(t *testing.T) {
	for _, et := range []SecurityEventType{
		EventAuthSuccess, EventAuthFailure, EventAuthBlocked, EventUnauthorizedAccess,
		EventRateLimitExceeded, EventSSRFAttempt, EventInvalidInput, EventSuspiciousActivity,
	} {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, SecurityEventType("password_leak").Valid())

	assert.Equal(t, "low", EventAuthSuccess.Severity())
	assert.Equal(t, "medium", EventRateLimitExceeded.Severity())
	assert.Equal(t, "medium", EventUnauthorizedAccess.Severity())
	assert.Equal(t, "high", EventSSRFAttempt.Severity())
}

func TestSecurityLoggerStampsEvents(t *testing.T) {
	sink := NewMemorySink(10)
	l := NewSecurityLogger(sink)
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	md := map[string]any{"k": "v"}
	l.LogSecurityEvent(SecurityEvent{Type: EventSuspiciousActivity, Message: "odd", Metadata: md})
	md["k"] = "changed"

	events := sink.Events(0)
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, fixed, ev.Timestamp)
	assert.Equal(t, "high", ev.Severity)
	assert.Equal(t, "v", ev.Metadata["k"], "metadata is copied")
}

func TestSecurityLoggerHelpers(t *testing.T) {
	sink := NewMemorySink(10)
	l := NewSecurityLogger(sink)
	ri := RequestInfo{IP: "198.51.100.7", UserAgent: "curl/8", Path: "/api/admin/x", Method: "GET"}

	l.LogUnauthorizedAccess("missing authentication token", ri)
	l.LogRateLimitExceeded("198.51.100.7", StrictRateLimit, ri)
	l.LogAuthAttempt(false, "", "bad token", ri)
	l.LogAuthAttempt(true, "ops", "", ri)

	events := sink.Events(0)
	require.Len(t, events, 4)

	assert.Equal(t, EventUnauthorizedAccess, events[0].Type)
	assert.Equal(t, "missing authentication token", events[0].Metadata["reason"])
	assert.Equal(t, "198.51.100.7", events[0].IP)
	assert.Equal(t, "curl/8", events[0].UserAgent)
	assert.Equal(t, "/api/admin/x", events[0].Path)

	assert.Equal(t, EventRateLimitExceeded, events[1].Type)
	assert.Equal(t, "198.51.100.7", events[1].Metadata["identifier"])
	assert.Equal(t, 5, events[1].Metadata["max_requests"])
	assert.Equal(t, "1m0s", events[1].Metadata["window"])

	assert.Equal(t, EventAuthFailure, events[2].Type)
	assert.Equal(t, "Authentication failed: bad token", events[2].Message)

	assert.Equal(t, EventAuthSuccess, events[3].Type)
	assert.Equal(t, "ops", events[3].UserID)
}

func TestSecurityLoggerSetSink(t *testing.T) {
	first, second := NewMemorySink(5), NewMemorySink(5)
	l := NewSecurityLogger(first)
	l.LogSSRFAttempt("http://10.0.0.1/", "", RequestInfo{})
	l.SetSink(second)
	l.SetSink(nil)
	l.LogSSRFAttempt("http://10.0.0.2/", "", RequestInfo{})

	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 1, second.Len())
}

func TestMemorySinkRing(t *testing.T) {
	m := NewMemorySink(3)
	for i := 0; i < 5; i++ {
		m.EmitEvent(SecurityEvent{Message: string(rune('a' + i))})
	}
	assert.Equal(t, 3, m.Len())

	var msgs []string
	for _, ev := range m.Events(0) {
		msgs = append(msgs, ev.Message)
	}
	assert.Equal(t, []string{"c", "d", "e"}, msgs)

	last := m.Events(2)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Message)
	assert.Equal(t, "e", last[1].Message)
}

func TestMultiSink(t *testing.T) {
	a, b := NewMemorySink(5), NewMemorySink(5)
	MultiSink{a, nil, b}.EmitEvent(SecurityEvent{Type: EventInvalidInput})
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

func TestLogrusSinkProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSecurityLogger(NewLogrusSink(&buf, true))
	l.LogSSRFAttempt("http://127.0.0.1/", "private", RequestInfo{IP: "203.0.113.1", UserAgent: "ua"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "ssrf_attempt", line["event_type"])
	assert.Equal(t, "high", line["severity"])
	assert.Equal(t, "203.0.113.1", line["ip"])
	assert.NotContains(t, line, "user_agent")
	md, ok := line["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1/", md["url"])
}

func TestLogrusSinkDevelopmentText(t *testing.T) {
	var buf bytes.Buffer
	l := NewSecurityLogger(NewLogrusSink(&buf, false))
	l.LogUnauthorizedAccess("IP not whitelisted", RequestInfo{IP: "100.0.0.1", UserAgent: "probe"})

	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "event_type=unauthorized_access")
	assert.Contains(t, out, "user_agent=probe")
	assert.Contains(t, out, `meta.reason="IP not whitelisted"`)
}

func TestLogrusSinkSamplesRateLimitEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogrusSink(&buf, true).WithSampling(rate.Every(time.Hour), 2)
	l := NewSecurityLogger(sink)

	for i := 0; i < 10; i++ {
		l.LogRateLimitExceeded("flood", StandardRateLimit, RequestInfo{})
	}
	l.LogSSRFAttempt("http://10.0.0.1/", "", RequestInfo{})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "two sampled rate limit events plus the ssrf event")

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "ssrf_attempt", last["event_type"])
	assert.EqualValues(t, 8, last["suppressed_rate_limit_events"])
}

type fakePutter struct {
	mu      sync.Mutex
	fail    error
	objects map[string][]byte
	opts    []minio.PutObjectOptions
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return minio.UploadInfo{}, f.fail
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[bucket+"/"+key] = body
	f.opts = append(f.opts, opts)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func (f *fakePutter) snapshot() (map[string][]byte, []minio.PutObjectOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs := make(map[string][]byte, len(f.objects))
	for k, v := range f.objects {
		objs[k] = v
	}
	return objs, append([]minio.PutObjectOptions(nil), f.opts...)
}

func decodeNDJSON(t *testing.T, body []byte) []SecurityEvent {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	dec := json.NewDecoder(gz)
	var out []SecurityEvent
	for dec.More() {
		var ev SecurityEvent
		require.NoError(t, dec.Decode(&ev))
		out = append(out, ev)
	}
	return out
}

func TestS3SinkFlushesBatchOnClose(t *testing.T) {
	putter := &fakePutter{}
	sink := newS3Sink(putter, S3SinkConfig{Bucket: "audit", Prefix: "events/", FlushInterval: time.Hour})

	l := NewSecurityLogger(sink)
	l.LogSSRFAttempt("http://10.0.0.1/", "", RequestInfo{IP: "203.0.113.5"})
	l.LogUnauthorizedAccess("missing authentication token", RequestInfo{})
	l.LogRateLimitExceeded("203.0.113.5", StrictRateLimit, RequestInfo{})

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	objs, opts := putter.snapshot()
	require.Len(t, objs, 1, "one object per batch")
	for key, body := range objs {
		assert.Regexp(t, `^audit/events/\d{4}/\d{2}/\d{2}/\d+-[0-9a-f-]{36}\.ndjson\.gz$`, key)

		events := decodeNDJSON(t, body)
		require.Len(t, events, 3)
		assert.Equal(t, EventSSRFAttempt, events[0].Type)
		assert.Equal(t, "203.0.113.5", events[0].IP)
		assert.Equal(t, EventRateLimitExceeded, events[2].Type)
	}
	assert.Equal(t, "application/x-ndjson", opts[0].ContentType)
	assert.Equal(t, "gzip", opts[0].ContentEncoding)
	assert.Equal(t, int64(3), sink.Shipped())
	assert.Equal(t, int64(0), sink.Dropped())

	sink.EmitEvent(SecurityEvent{Type: EventInvalidInput})
	assert.Equal(t, int64(1), sink.Dropped(), "events after Close are dropped")
}

func TestS3SinkFlushesFullBatches(t *testing.T) {
	putter := &fakePutter{}
	sink := newS3Sink(putter, S3SinkConfig{Bucket: "audit", BatchSize: 2, FlushInterval: time.Hour})
	for i := 0; i < 5; i++ {
		sink.EmitEvent(SecurityEvent{Type: EventInvalidInput})
	}
	require.NoError(t, sink.Close())

	objs, _ := putter.snapshot()
	assert.Len(t, objs, 3)
	assert.Equal(t, int64(5), sink.Shipped())
}

func TestS3SinkAccountsForEventsRacingClose(t *testing.T) {
	putter := &fakePutter{}
	sink := newS3Sink(putter, S3SinkConfig{Bucket: "audit", BatchSize: 50, QueueSize: 64, FlushInterval: time.Hour})

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perWriter; i++ {
				sink.EmitEvent(SecurityEvent{Type: EventRateLimitExceeded})
			}
		}()
	}
	close(start)
	require.NoError(t, sink.Close())
	wg.Wait()

	assert.Equal(t, int64(writers*perWriter), sink.Shipped()+sink.Dropped(), "every event is shipped or counted")

	objs, _ := putter.snapshot()
	var shipped int
	for _, body := range objs {
		shipped += len(decodeNDJSON(t, body))
	}
	assert.Equal(t, sink.Shipped(), int64(shipped))
}

func TestS3SinkCountsFailedUploads(t *testing.T) {
	putter := &fakePutter{fail: errors.New("bucket gone")}
	sink := newS3Sink(putter, S3SinkConfig{Bucket: "audit", FlushInterval: time.Hour})
	sink.EmitEvent(SecurityEvent{Type: EventSSRFAttempt})
	sink.EmitEvent(SecurityEvent{Type: EventSSRFAttempt})
	require.NoError(t, sink.Close())

	assert.Equal(t, int64(0), sink.Shipped())
	assert.Equal(t, int64(2), sink.Dropped())
}

func TestS3SinkConfig(t *testing.T) {
	assert.False(t, S3SinkConfig{Bucket: "b"}.Enabled())
	assert.True(t, S3SinkConfig{Endpoint: "s3.local:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}.Enabled())

	_, err := NewS3Sink(S3SinkConfig{})
	assert.Error(t, err)
}
