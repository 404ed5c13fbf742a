// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func restoreProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitDisabled(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	tp, shutdown, err := Init(ctx, Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init(disabled) returned error: %v", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown returned error: %v", err)
		}
	}()

	if _, ok := tp.(noop.TracerProvider); !ok {
		t.Errorf("expected noop.TracerProvider, got %T", tp)
	}
}

func TestInitEnabledNoneExporter(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	tp, shutdown, err := Init(ctx, Options{
		Enabled:      true,
		Exporter:     "none",
		ServiceName:  "test-service",
		SamplingRate: 1.0,
		Logger:       zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("Init(none exporter) returned error: %v", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown returned error: %v", err)
		}
	}()

	if _, ok := tp.(noop.TracerProvider); ok {
		t.Error("expected real TracerProvider, got noop")
	}
	if otel.GetTracerProvider() == nil {
		t.Fatal("global TracerProvider is nil")
	}
}

func TestInitStdoutExporterWritesSpans(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	var buf bytes.Buffer
	_, shutdown, err := Init(ctx, Options{
		Enabled:  true,
		Exporter: "stdout",
		Writer:   &buf,
	})
	if err != nil {
		t.Fatalf("Init(stdout) returned error: %v", err)
	}

	_, span := Tracer("test").Start(ctx, "acctl.test")
	End(span, nil)
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "acctl.test") {
		t.Errorf("expected span in stdout export, got %q", buf.String())
	}
}

func TestInitInvalidExporter(t *testing.T) {
	_, _, err := Init(context.Background(), Options{
		Enabled:  true,
		Exporter: "invalid-exporter",
	})
	if err == nil {
		t.Fatal("expected error for invalid exporter, got nil")
	}
}

func TestInitSamplingRateOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.5, 2.0} {
		restoreProvider(t)
		ctx := context.Background()
		tp, shutdown, err := Init(ctx, Options{
			Enabled:      true,
			Exporter:     "none",
			SamplingRate: rate,
		})
		if err != nil {
			t.Fatalf("Init(rate %v) returned error: %v", rate, err)
		}
		if tp == nil {
			t.Fatal("TracerProvider is nil")
		}
		_ = shutdown(ctx)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	_, shutdown, err := Init(ctx, Options{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("first shutdown returned error: %v", err)
	}
	_ = shutdown(ctx)
}

func TestInitOTLPExporterCreation(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	// OTLP exporter connects lazily, so New() succeeds with a non-routable endpoint.
	tp, shutdown, err := Init(ctx, Options{
		Enabled:  true,
		Exporter: "otlp",
		Endpoint: "localhost:0",
		Insecure: true,
		Logger:   zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("Init(otlp) returned error: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(ctx) })
	if tp == nil {
		t.Fatal("TracerProvider is nil")
	}
}

func TestEndRecordsError(t *testing.T) {
	restoreProvider(t)

	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tp, shutdown, err := Init(ctx, Options{Enabled: true, SpanExporter: exp})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	tracer := Tracer("test")
	_, ok := tracer.Start(ctx, "ok")
	End(ok, nil)
	_, failed := tracer.Start(ctx, "failed")
	End(failed, errors.New("boom"))
	// the in-memory exporter drops its spans on shutdown
	if err := tp.(*sdktrace.TracerProvider).ForceFlush(ctx); err != nil {
		t.Fatalf("flush returned error: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Errorf("span %q unexpectedly failed", spans[0].Name)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("span %q status = %+v", spans[1].Name, spans[1].Status)
	}
	if spans[1].InstrumentationScope.Name != ScopeName+"/test" {
		t.Errorf("unexpected scope %q", spans[1].InstrumentationScope.Name)
	}
}
