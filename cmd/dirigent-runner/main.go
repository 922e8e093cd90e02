// Dirigent Runner — воркер выполнения процессов.
//
// Runner:
//   - Получает события instance.created, timer.due, signal.raised
//     и event.occurred из RabbitMQ
//   - Запускает PENDING-экземпляры через polling fallback
//   - Выполняет экземпляры движком под lease-блокировками
//
// Runners масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/handler"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/runner"
	"github.com/shaiso/Dirigent/internal/store/postgres"
	"github.com/shaiso/Dirigent/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dirigent-runner")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := postgres.NewPool(ctx, "")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	st := postgres.New(pool)

	// RabbitMQ
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
	}

	// Создаём движок
	eng := engine.New(engine.Config{
		Definitions: st.Definitions,
		Instances:   st.Instances,
		Timers:      st.Timers,
		Registry:    handler.DefaultRegistry(),
		Logger:      logger,
		Metrics:     telemetry.NewMetrics(nil),
	})

	// Создаём runner
	r := runner.New(runner.Config{
		Engine:    eng,
		Instances: st.Instances,
		Timers:    st.Timers,
		Conn:      mqConn,
		Logger:    logger,
	})

	// Запускаем runner
	if err := r.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("RUNNER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем runner
	r.Stop()
	logger.Info("dirigent-runner stopped")
}
