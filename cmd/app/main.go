package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"realtime-service/configs"
	"realtime-service/internal/broadcast"
	"realtime-service/internal/emitter"
	"realtime-service/internal/kafka"
	"realtime-service/internal/room"
	"realtime-service/internal/shared/httpx"
	"realtime-service/internal/shared/jwt"
	"realtime-service/internal/shared/redisx"
	"realtime-service/internal/socket"
	"realtime-service/internal/wire"
)

func initOTEL(ctx context.Context, cfg *configs.Config) func(context.Context) error {
	exp, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(cfg.OTELEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Fatalf("otel exporter: %v", err)
	}

	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.Env),
		),
	)

	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.OTELSampleRatio))),
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp.Shutdown
}

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("config: %s", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := initOTEL(ctx, cfg)
	defer func() {
		c, cc := context.WithTimeout(context.Background(), 5*time.Second)
		defer cc()
		_ = shutdown(c)
	}()

	rdb := redisx.Open(cfg.RedisAddr())
	defer func() { _ = rdb.Close() }()

	rooms := room.NewManager()

	opts := []emitter.Option{emitter.WithPublishTimeout(cfg.PublishTimeout)}
	if cfg.LikeVersions {
		opts = append(opts, emitter.WithLikeVersions(broadcast.NewRedisVersions(rdb)))
	}
	em := emitter.New(broadcast.NewRedisPublisher(rdb), rooms, opts...)
	eh := emitter.NewHandler(em)

	validator, err := wire.NewValidator()
	if err != nil {
		log.Fatalf("frame schema: %v", err)
	}
	ws := socket.NewServer(rooms, validator, socket.Config{
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	verifier := jwt.NewVerifier(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		c, cc := context.WithTimeout(r.Context(), time.Second)
		defer cc()
		if err := rdb.Ping(c).Err(); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, err, "redis_unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, rooms.Stats(), http.StatusOK)
	})

	protect := func(pattern string, h http.Handler) {
		mux.Handle(pattern, httpx.AuthMiddleware(verifier, h))
	}
	protect("GET /ws", ws)
	protect("POST /events", httpx.Wrap(eh.Emit))

	srv := &http.Server{
		Addr:              cfg.AppPort,
		Handler:           otelhttp.NewHandler(mux, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Printf("realtime-service listening on %s", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	if cfg.KafkaEnabled {
		cons := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.FanoutTopic, eh.HandleMessage)
		go func() {
			if err := cons.Run(ctx); err != nil {
				log.Printf("consumer stopped: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Print("shutting down...")

	cancel()
	rooms.Close()
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
}
