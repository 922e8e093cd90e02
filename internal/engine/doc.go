// Package engine содержит движок выполнения процессов.
//
// Движок проводит экземпляр через граф определения: выполняет текущую
// activity, решает следующий шаг и либо продолжает, либо приостанавливает
// (bookmark персистится), либо разветвляет/сводит параллельные ветки,
// либо компенсирует, либо завершает.
//
// Состояние экземпляра во время запуска принадлежит движку монопольно;
// взаимное исключение между воркерами обеспечивает lease-блокировка
// в InstanceStore. Персистенция — на границах запуска и в точках
// приостановки; журнал дописывается атомарно с состоянием.
//
// Основные части:
//   - Engine        — публичная поверхность (Create/Start/Resume/...)
//   - CompiledGraph — проверенный граф с парами split/join
//   - Context       — фасад переменных/входа/выхода для activity
//   - Evaluate      — вычислитель условий gateway'ев
package engine
