// Package statemachine — обобщённый движок конечных автоматов для
// жизненных циклов сущностей.
//
// Независим от движка процессов, но использует тот же словарь
// guard/action: переход (from, to) защищён упорядоченными guard'ами
// и выполняет упорядоченные действия. Переходы атомарны — durable
// приостановок нет.
//
// Порядок действий успешного перехода:
//
//	exit-действия from → действия перехода → entry-действия to
//
// Первый упавший guard прерывает переход с его идентификацией;
// упавшее действие прерывает переход с ActionError.
package statemachine
