package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/sink"
)

func buildVia(t *testing.T, rawURI string) (sink.Sink, error) {
	t.Helper()
	c := New(WithDiagnosticLogger(log.NewNop()))
	c.settings = config.Defaults()
	return c.factory.Build(context.Background(), rawURI, c)
}

func unwrap(s sink.Sink) sink.Sink {
	if i, ok := s.(*sink.Instrumented); ok {
		return i.Unwrap()
	}
	return s
}

func TestFactoryBuildsStdout(t *testing.T) {
	s, err := buildVia(t, "stdout")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := unwrap(s).(*sink.Stdout); !ok {
		t.Errorf("built %T", s)
	}
}

func TestFactoryBuildsFileWithParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	s, err := buildVia(t, "file://"+path+"?maxBytes=1048576&backupCount=2")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()
	if _, ok := unwrap(s).(*sink.File); !ok {
		t.Errorf("built %T", s)
	}
}

func TestFactoryBuildsLoki(t *testing.T) {
	s, err := buildVia(t, "loki://loki.internal:3100?labels=app=myapi,env=prod&batch_size=50&batch_interval=2.5")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()
	if _, ok := unwrap(s).(*sink.Loki); !ok {
		t.Errorf("built %T", s)
	}
}

func TestFactoryHTTPSRequiresLokiHost(t *testing.T) {
	if _, err := buildVia(t, "https://loki.grafana.example:443"); err != nil {
		t.Errorf("https loki host rejected: %v", err)
	}
	if _, err := buildVia(t, "https://api.example.com"); err == nil {
		t.Error("https non-aggregator host accepted")
	}
}

func TestFactoryBuildsRedis(t *testing.T) {
	s, err := buildVia(t, "redis://localhost:6379?key=events&mode=channel&encoding=msgpack")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()
	if _, ok := unwrap(s).(*sink.Redis); !ok {
		t.Errorf("built %T", s)
	}
}

func TestFactoryRejectsBadLabels(t *testing.T) {
	if _, err := buildVia(t, "loki://h:3100?labels=justakey"); err == nil {
		t.Error("malformed labels accepted")
	}
}

func TestFactoryUnknownScheme(t *testing.T) {
	_, err := buildVia(t, "kafka://broker:9092")
	if err == nil {
		t.Fatal("unknown scheme accepted")
	}
}

func TestFactoryCustomScheme(t *testing.T) {
	f := NewSinkFactory()
	rec := sink.NewRecordingSink("custom")
	err := f.RegisterScheme("memo", func(context.Context, *config.SinkURI, *Container) (sink.Sink, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatalf("RegisterScheme: %v", err)
	}

	s, err := f.Build(context.Background(), "memo://anything", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s != sink.Sink(rec) {
		t.Error("custom builder not used")
	}
}

func TestFactoryRejectsInvalidCustomScheme(t *testing.T) {
	f := NewSinkFactory()
	err := f.RegisterScheme("my_scheme", func(context.Context, *config.SinkURI, *Container) (sink.Sink, error) {
		return nil, nil
	})
	if err == nil {
		t.Error("underscore scheme registered")
	}
}
