// Package scheduler реализует планировщик таймеров и cron-триггеров.
//
// Scheduler периодически проверяет таймеры с истекшим due_at и
// возобновляет приостановленные экземпляры (напрямую или через
// публикацию timer.due в RabbitMQ).
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processTimer)
//   - cron.go      — CronRunner: запуск определений по cron-триггерам,
//     парсинг cron-выражений
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Timers:    timerStore,
//	    Engine:    eng,
//	    Publisher: publisher,  // опционально
//	    Logger:    logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером. CronRunner дедуплицирует
// запуски через CorrelationID, поэтому безопасен и без лидера.
package scheduler
