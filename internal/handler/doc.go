// Package handler содержит реестр обработчиков activities и встроенные
// реализации.
//
// Реестр является allow-list'ом: движок вызывает только обработчики,
// зарегистрированные по имени. Отсутствие имени или требуемой
// capability — нарушение безопасности, а не обычная ошибка выполнения.
//
// Встроенные обработчики:
//   - http      — HTTP-запрос к внешнему сервису
//   - transform — проекция данных контекста через jsonpath
//   - delay     — короткая пауза без приостановки экземпляра
//
// Пакет также содержит исполнитель JS-скриптов (goja) и резолвер
// входных параметров ("$.path"-выражения поверх контекста экземпляра).
package handler
