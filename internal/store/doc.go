// Package store определяет интерфейсы хранилищ движка.
//
// Включает:
//   - DefinitionStore — версии определений процессов, publish/unpublish,
//     поиск по триггерам
//   - InstanceStore — экземпляры с OCC (Revision), append-only журналом
//     и lease-блокировками (holder + expiry)
//   - TimerStore — запланированные возобновления для планировщика
//
// Реализации: store/memory (встроенная, для тестов и разработки)
// и store/postgres (pgx, production).
//
// Движок зависит только от интерфейсов этого пакета.
package store
