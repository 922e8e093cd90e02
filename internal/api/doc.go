// Package api реализует HTTP API поверх движка процессов.
//
// Структура:
//   - handler.go            — Handler с зависимостями
//   - routes.go             — регистрация маршрутов (net/http ServeMux)
//   - definition_handler.go — определения процессов (save, publish)
//   - instance_handler.go   — жизненный цикл экземпляров
//   - signal_handler.go     — сигналы и внешние события
//   - dto.go                — request/response структуры
//   - response.go           — helpers для JSON-ответов и маппинга ошибок
//   - middleware.go         — logging, recovery
//
// Соглашения:
//   - Успех: {"data": ...}; списки: {"data": [...], "total": N}
//   - Ошибка: {"error": {"code": "...", "message": "..."}}
//   - Коды ошибок движка маппятся в HTTP статусы (HandleEngineError)
package api
