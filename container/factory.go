package container

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/sink"
)

// SinkBuilder constructs a sink from its parsed URI.
type SinkBuilder func(ctx context.Context, uri *config.SinkURI, c *Container) (sink.Sink, error)

// SinkFactory resolves sink URIs to sink instances through a scheme
// registry. Each container owns its own factory, so custom schemes
// registered on one container never leak into another.
type SinkFactory struct {
	mu       sync.Mutex
	builders map[string]SinkBuilder
}

// NewSinkFactory creates a factory preloaded with the built-in schemes.
func NewSinkFactory() *SinkFactory {
	f := &SinkFactory{builders: make(map[string]SinkBuilder)}
	f.RegisterScheme("stdout", buildStdout)
	f.RegisterScheme("file", buildFile)
	f.RegisterScheme("loki", buildLoki)
	f.RegisterScheme("https", buildLokiHTTPS)
	f.RegisterScheme("redis", buildRedis)
	f.RegisterScheme("rediss", buildRedis)
	f.RegisterScheme("s3", buildS3)
	return f
}

// RegisterScheme adds or replaces the builder for a scheme. The scheme
// must satisfy the URI grammar.
func (f *SinkFactory) RegisterScheme(scheme string, builder SinkBuilder) error {
	if !config.ValidateScheme(scheme) {
		return config.NewError("sink scheme", scheme,
			fmt.Sprintf("letters, digits, +, -, . starting with a letter (try %q)", config.SuggestScheme(scheme)))
	}
	f.mu.Lock()
	f.builders[strings.ToLower(scheme)] = builder
	f.mu.Unlock()
	return nil
}

// KnownSchemes returns the registered schemes, sorted.
func (f *SinkFactory) KnownSchemes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	schemes := make([]string, 0, len(f.builders))
	for s := range f.builders {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Build parses one sink URI and constructs the sink.
func (f *SinkFactory) Build(ctx context.Context, rawURI string, c *Container) (sink.Sink, error) {
	uri, err := config.ParseSinkURI(rawURI)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	builder, ok := f.builders[uri.Scheme]
	f.mu.Unlock()
	if !ok {
		return nil, config.NewError("sinks", rawURI,
			fmt.Sprintf("a known sink scheme (one of: %s)", strings.Join(f.KnownSchemes(), ", ")))
	}

	return builder(ctx, uri, c)
}

// --- Built-in builders ---

func buildStdout(_ context.Context, _ *config.SinkURI, c *Container) (sink.Sink, error) {
	return sink.NewStdout(c.consoleMode()), nil
}

func buildFile(_ context.Context, uri *config.SinkURI, _ *Container) (sink.Sink, error) {
	if uri.Path == "" {
		return nil, config.NewError("sinks", uri.String(), "file:///abs/path with a non-empty path")
	}
	return sink.NewFile(
		uri.Path,
		uri.ParamInt("maxBytes", sink.DefaultFileMaxBytes),
		int(uri.ParamInt("backupCount", sink.DefaultFileBackupCount)),
	)
}

func buildLoki(_ context.Context, uri *config.SinkURI, c *Container) (sink.Sink, error) {
	return buildLokiWithScheme(uri, "http", c)
}

// buildLokiHTTPS accepts https:// URIs whose host matches the
// aggregator; anything else is a configuration error.
func buildLokiHTTPS(_ context.Context, uri *config.SinkURI, c *Container) (sink.Sink, error) {
	if !strings.Contains(uri.Host, "loki") {
		return nil, config.NewError("sinks", uri.String(),
			"an https URI addressing the log aggregator (host containing \"loki\")")
	}
	return buildLokiWithScheme(uri, "https", c)
}

func buildLokiWithScheme(uri *config.SinkURI, httpScheme string, c *Container) (sink.Sink, error) {
	if uri.Host == "" {
		return nil, config.NewError("sinks", uri.String(), "loki://host:port")
	}

	base := fmt.Sprintf("%s://%s", httpScheme, uri.Host)
	if uri.Port != 0 {
		base = fmt.Sprintf("%s:%d", base, uri.Port)
	}

	labels, err := parseLabels(uri.ParamString("labels", ""))
	if err != nil {
		return nil, err
	}

	return sink.NewLoki(sink.LokiConfig{
		URL:           base,
		Labels:        labels,
		BatchSize:     int(uri.ParamInt("batch_size", sink.DefaultLokiBatchSize)),
		BatchInterval: time.Duration(uri.ParamFloat("batch_interval", sink.DefaultLokiBatchInterval.Seconds()) * float64(time.Second)),
		Timeout:       time.Duration(uri.ParamFloat("timeout", sink.DefaultLokiTimeout.Seconds()) * float64(time.Second)),
		MaxRetries:    int(uri.ParamInt("max_retries", sink.DefaultLokiMaxRetries)),
		RetryDelay:    time.Duration(uri.ParamFloat("retry_delay", sink.DefaultLokiRetryDelay.Seconds()) * float64(time.Second)),
		Collector:     c.sinkCollector(),
	})
}

// parseLabels parses "k=v,k=v" label lists.
func parseLabels(raw string) (map[string]string, error) {
	labels := map[string]string{}
	if raw == "" {
		return labels, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, config.NewError("sinks", raw, "labels as k=v pairs separated by commas")
		}
		labels[k] = v
	}
	return labels, nil
}

func buildRedis(_ context.Context, uri *config.SinkURI, _ *Container) (sink.Sink, error) {
	// Rebuild the connection URL without flume's own query params.
	connURL := uri.Scheme + "://"
	if uri.User != "" || uri.Password != "" {
		connURL += uri.User + ":" + uri.Password + "@"
	}
	connURL += uri.Host
	if uri.Port != 0 {
		connURL = fmt.Sprintf("%s:%d", connURL, uri.Port)
	}
	connURL += uri.Path

	return sink.NewRedis(sink.RedisConfig{
		URL:      connURL,
		Key:      uri.ParamString("key", sink.DefaultRedisKey),
		Mode:     sink.RedisMode(uri.ParamString("mode", string(sink.RedisModeList))),
		Encoding: sink.RedisEncoding(uri.ParamString("encoding", string(sink.RedisEncodingJSON))),
		MaxLen:   uri.ParamInt("maxlen", sink.DefaultRedisMaxLen),
	})
}

func buildS3(ctx context.Context, uri *config.SinkURI, c *Container) (sink.Sink, error) {
	if uri.Host == "" {
		return nil, config.NewError("sinks", uri.String(), "s3://bucket[/prefix]")
	}
	return sink.NewS3(ctx, sink.S3Config{
		Bucket:        uri.Host,
		Prefix:        strings.TrimPrefix(uri.Path, "/"),
		Region:        uri.ParamString("region", ""),
		Endpoint:      uri.ParamString("endpoint", ""),
		UsePathStyle:  uri.ParamBool("pathstyle", false),
		BatchSize:     int(uri.ParamInt("batch_size", sink.DefaultS3BatchSize)),
		BatchInterval: time.Duration(uri.ParamFloat("batch_interval", sink.DefaultS3BatchInterval.Seconds()) * float64(time.Second)),
		MaxRetries:    int(uri.ParamInt("max_retries", sink.DefaultS3MaxRetries)),
		RetryDelay:    time.Duration(uri.ParamFloat("retry_delay", sink.DefaultS3RetryDelay.Seconds()) * float64(time.Second)),
		Collector:     c.sinkCollector(),
	})
}
