package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3SinkConfig configures shipping of security events to an S3-compatible bucket
type S3SinkConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	UseSSL        bool          `yaml:"use_ssl"`
	Prefix        string        `yaml:"prefix"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

// Enabled reports whether enough is configured to build a client
func (c S3SinkConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Sink batches events into gzipped NDJSON objects.
// EmitEvent never blocks; events that do not fit in the queue are counted as dropped.
type S3Sink struct {
	client    objectPutter
	cfg       S3SinkConfig
	queue     chan SecurityEvent
	dropped   atomic.Int64
	shipped   atomic.Int64
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	now       func() time.Time

	// mu orders enqueues before close(done), so the final drain sees them all
	mu     sync.RWMutex
	closed bool
}

// NewS3Sink builds a minio client from cfg and starts the flusher
func NewS3Sink(cfg S3SinkConfig) (*S3Sink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("incomplete S3 sink config")
	}
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid S3 endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       useSSL,
		Region:       "auto",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, err
	}
	return newS3Sink(cli, cfg), nil
}

func newS3Sink(client objectPutter, cfg S3SinkConfig) *S3Sink {
	if cfg.Prefix == "" {
		cfg.Prefix = "security-events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	s := &S3Sink{
		client:  client,
		cfg:     cfg,
		queue:   make(chan SecurityEvent, cfg.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
	go s.run()
	return s
}

// EmitEvent implements EventSink
func (s *S3Sink) EmitEvent(ev SecurityEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events never reached the bucket
func (s *S3Sink) Dropped() int64 { return s.dropped.Load() }

// Shipped returns how many events were uploaded
func (s *S3Sink) Shipped() int64 { return s.shipped.Load() }

// Close flushes what is queued and stops the flusher. Safe to call multiple times.
func (s *S3Sink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	<-s.stopped
	return nil
}

func (s *S3Sink) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]SecurityEvent, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.ship(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *S3Sink) ship(batch []SecurityEvent) {
	body, err := encodeEventBatch(batch)
	if err != nil {
		log.Printf("security event shipping: encode failed: %v", err)
		s.dropped.Add(int64(len(batch)))
		return
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s/%s/%d-%s.ndjson.gz", strings.Trim(s.cfg.Prefix, "/"), now.Format("2006/01/02"), now.Unix(), uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
	})
	if err != nil {
		log.Printf("security event shipping: upload of %d events failed: %v", len(batch), err)
		s.dropped.Add(int64(len(batch)))
		return
	}
	s.shipped.Add(int64(len(batch)))
}

// encodeEventBatch renders events as gzipped newline-delimited JSON
func encodeEventBatch(batch []SecurityEvent) ([]byte, error) {
	var b bytes.Buffer
	gz := gzip.NewWriter(&b)
	enc := json.NewEncoder(gz)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
