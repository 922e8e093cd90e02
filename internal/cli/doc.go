// Package cli реализует инструмент командной строки Dirigent.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Dirigent API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления определениями, экземплярами
// процессов и сигналами.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Dirigent API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (dataResponse, listResponse, errorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	instances, err := client.ListInstances(cli.ListInstancesOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: dirigent instance list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - definition: create, show, publish, unpublish
//   - instance: list, start, show, history, resume, cancel, retry
//   - signal: send, event
//
// Каждая группа создаётся через фабричную функцию (NewDefinitionCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
