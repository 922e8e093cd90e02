// Dirigent Scheduler — возобновляет экземпляры по таймерам и
// запускает процессы по cron-расписаниям.
//
// Scheduler работает с выбором лидера через postgres advisory lock:
// несколько реплик могут быть запущены, но тики выполняет одна.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/scheduler"
	"github.com/shaiso/Dirigent/internal/store/postgres"
	"github.com/shaiso/Dirigent/internal/telemetry"
)

const schedLockKey int64 = 424242

// cronSyncInterval — период перечитывания schedule-триггеров из БД.
const cronSyncInterval = time.Minute

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dirigent-scheduler")

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

	// RabbitMQ (опционально: без брокера таймеры возобновляются напрямую)
	var publisher *mq.Publisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, resuming timers directly", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Движок нужен планировщику для запуска по расписанию
	// и для возобновления таймеров без брокера
	eng := engine.New(engine.Config{
		Definitions: st.Definitions,
		Instances:   st.Instances,
		Timers:      st.Timers,
		Logger:      logger,
	})

	sched := scheduler.New(scheduler.Config{
		Timers:    st.Timers,
		Engine:    eng,
		Publisher: publisher,
		Logger:    logger,
	})

	cron := scheduler.NewCronRunner(eng, logger)
	cron.Start()
	defer cron.Stop()

	// scheduler loop
	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		lastCronSync := time.Time{}

		for {
			select {
			case <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Error("leader lock error", "error", err)
						continue
					}
					if ok {
						logger.Info("became scheduler leader")
					}
					hasLock = ok
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				// лидер выполняет тик: due-таймеры и sync cron-расписаний
				if err := sched.Tick(ctx); err != nil {
					logger.Error("scheduler tick failed", "error", err)
				}

				if time.Since(lastCronSync) >= cronSyncInterval {
					syncCron(ctx, st, cron, logger)
					lastCronSync = time.Now()
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}
	logger.Info("listening", "addr", port)
	if err := http.ListenAndServe(port, mux); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}
}

// syncCron регистрирует cron-расписания всех опубликованных определений
// со schedule-триггерами. Повторная регистрация заменяет прежние записи.
func syncCron(ctx context.Context, st *postgres.Store, cron *scheduler.CronRunner, logger *slog.Logger) {
	defs, err := st.Definitions.ListByTrigger(ctx, domain.TriggerSchedule, "")
	if err != nil {
		logger.Error("failed to list scheduled definitions", "error", err)
		return
	}

	for i := range defs {
		if err := cron.RegisterDefinition(&defs[i]); err != nil {
			logger.Error("failed to register schedule",
				"definition_id", defs[i].ID, "error", err)
		}
	}
}
