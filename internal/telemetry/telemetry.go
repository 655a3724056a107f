// Package telemetry はOpenTelemetryのトレース出力を設定する。
package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc はトレースプロバイダーを停止し、未送信のスパンを送出する。
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup はOTLP gRPCエクスポーター付きのトレースプロバイダーをグローバルに設定する。
// endpointが空の場合は何もせず、no-opの停止関数を返す。
// エクスポーターの生成に失敗してもアプリケーションの起動は継続する。
func Setup(ctx context.Context, serviceName, endpoint string, insecure bool, logger *slog.Logger) ShutdownFunc {
	if endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Error("failed to create otlp exporter", slog.String("error", err.Error()))
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		logger.Warn("failed to build otel resource", slog.String("error", err.Error()))
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing enabled", slog.String("endpoint", endpoint))
	return provider.Shutdown
}

// WrapHandler はHTTPサーバーのハンドラーにトレースを付与する。
func WrapHandler(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}

// WrapClient はポータル向けHTTPクライアントのTransportにトレースを付与する。
// 元のクライアントは変更せず、複製を返す。
func WrapClient(c *http.Client) *http.Client {
	wrapped := *c
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped.Transport = otelhttp.NewTransport(base)
	return &wrapped
}
