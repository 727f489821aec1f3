package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "", want: "msg=hello"},
		{format: "text", want: "msg=hello"},
		{format: "json", want: `"msg":"hello"`},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			handler, err := newHandler(&buf, slog.LevelInfo, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newHandler() error = %v", err)
			}

			logger := slog.New(handler)
			logger.Info("hello")
			logger.Debug("filtered")

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
			if strings.Contains(buf.String(), "filtered") {
				t.Error("debug record logged at info level")
			}
		})
	}
}

func TestInstrumentWithoutExporter(t *testing.T) {
	restoreDefaultLogger(t)

	shutdown, err := Instrument(context.Background(), slog.LevelWarn, "json", ExporterNone)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	fields := otel.GetTextMapPropagator().Fields()
	if !containsField(fields, "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestInstrumentStdoutExporter(t *testing.T) {
	restoreDefaultLogger(t)

	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text", ExporterStdout)
	if err != nil {
		t.Fatalf("Instrument() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInstrumentRejectsUnknownValues(t *testing.T) {
	restoreDefaultLogger(t)

	if _, err := Instrument(context.Background(), slog.LevelInfo, "xml", ExporterNone); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := Instrument(context.Background(), slog.LevelInfo, "text", "kafka"); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  minsev.Severity
	}{
		{slog.LevelDebug, minsev.SeverityDebug},
		{slog.LevelInfo, minsev.SeverityInfo},
		{slog.LevelWarn, minsev.SeverityWarn},
		{slog.LevelError, minsev.SeverityError},
		{slog.LevelError + 4, minsev.SeverityError},
	}
	for _, tt := range tests {
		if got := severityFor(tt.level); got != tt.want {
			t.Errorf("severityFor(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
