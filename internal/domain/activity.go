package domain

// ActivityKind — дискриминатор типа activity.
//
// Движок диспетчеризует выполнение исчерпывающим switch по Kind;
// сериализация использует тот же дискриминатор.
type ActivityKind string

const (
	// KindStart — маркер начала процесса.
	KindStart ActivityKind = "start"

	// KindEnd — маркер завершения процесса.
	KindEnd ActivityKind = "end"

	// KindTask — синхронная работа через именованный handler.
	KindTask ActivityKind = "task"

	// KindServiceTask — как task, но с компенсацией через именованную
	// обратную операцию (CompensationHandler).
	KindServiceTask ActivityKind = "service_task"

	// KindScriptTask — выполнение JS-скрипта (goja).
	KindScriptTask ActivityKind = "script_task"

	// KindExclusiveGateway — XOR: первое истинное условие выбирает путь.
	KindExclusiveGateway ActivityKind = "exclusive_gateway"

	// KindParallelGateway — AND: split запускает все исходящие ветки
	// параллельно, join — точка схождения (no-op, схождение отслеживает
	// движок).
	KindParallelGateway ActivityKind = "parallel_gateway"

	// KindInclusiveGateway — OR: все истинные условия выбирают пути.
	KindInclusiveGateway ActivityKind = "inclusive_gateway"

	// KindUserTask — ожидание действия пользователя (suspend + bookmark).
	KindUserTask ActivityKind = "user_task"

	// KindTimer — ожидание таймера (suspend + bookmark, resume планировщиком).
	KindTimer ActivityKind = "timer"

	// KindSignalReceive — ожидание именованного сигнала.
	KindSignalReceive ActivityKind = "signal_receive"

	// KindSubProcess — вложенный запуск другого определения.
	KindSubProcess ActivityKind = "sub_process"

	// KindMultiInstance — итерация по коллекции с вложенной activity на элемент.
	KindMultiInstance ActivityKind = "multi_instance"

	// KindErrorBoundary — не выполняется напрямую; движок консультируется
	// с ней после падения привязанной activity.
	KindErrorBoundary ActivityKind = "error_boundary"
)

// Valid возвращает true для известного Kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case KindStart, KindEnd, KindTask, KindServiceTask, KindScriptTask,
		KindExclusiveGateway, KindParallelGateway, KindInclusiveGateway,
		KindUserTask, KindTimer, KindSignalReceive, KindSubProcess,
		KindMultiInstance, KindErrorBoundary:
		return true
	default:
		return false
	}
}

// Resumable возвращает true для activities, которые всегда приостанавливают
// выполнение и возобновляются внешним входом (Resume/Signal/таймер).
func (k ActivityKind) Resumable() bool {
	switch k {
	case KindUserTask, KindTimer, KindSignalReceive:
		return true
	default:
		return false
	}
}

// GatewayDirection — роль parallel gateway в графе.
type GatewayDirection string

const (
	// DirectionSplit — fan-out: все исходящие переходы выполняются параллельно.
	DirectionSplit GatewayDirection = "split"

	// DirectionJoin — fan-in: точка схождения параллельных веток.
	DirectionJoin GatewayDirection = "join"
)

// GatewayCondition — условие ветвления с целевой activity.
type GatewayCondition struct {
	// Expression — условие (см. engine.EvaluateCondition).
	Expression string `json:"expression"`

	// To — activity, на которую ведёт условие.
	To string `json:"to"`
}

// Activity — полиморфный узел графа процесса.
//
// Моделируется как tagged union: Kind определяет, какие поля значимы.
// Поля, не относящиеся к Kind, игнорируются движком.
type Activity struct {
	// ID — уникальный идентификатор в рамках определения.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Kind — дискриминатор типа.
	Kind ActivityKind `json:"kind"`

	// Handler — имя обработчика в реестре (task, service_task).
	Handler string `json:"handler,omitempty"`

	// CompensationHandler — имя обратной операции (service_task).
	// Непустое значение делает activity компенсируемой.
	CompensationHandler string `json:"compensation_handler,omitempty"`

	// Script — тело JS-скрипта (script_task).
	Script string `json:"script,omitempty"`

	// Input — входные данные handler'а. Строковые значения вида "$.path"
	// резолвятся через контекст экземпляра перед вызовом.
	Input map[string]any `json:"input,omitempty"`

	// Conditions — условия ветвления (exclusive_gateway, inclusive_gateway).
	// Вычисляются в порядке возрастания ключей; для XOR побеждает первое
	// истинное.
	Conditions map[string]GatewayCondition `json:"conditions,omitempty"`

	// DefaultTo — путь по умолчанию, когда ни одно условие не сработало.
	DefaultTo string `json:"default_to,omitempty"`

	// Direction — роль parallel gateway: split или join.
	Direction GatewayDirection `json:"direction,omitempty"`

	// Signal — имя ожидаемого сигнала (signal_receive).
	Signal string `json:"signal,omitempty"`

	// DelaySec — задержка таймера в секундах (timer).
	DelaySec int `json:"delay_sec,omitempty"`

	// SubProcessID — ID вложенного определения (sub_process).
	SubProcessID string `json:"sub_process_id,omitempty"`

	// CollectionVar — переменная с упорядоченной коллекцией (multi_instance).
	CollectionVar string `json:"collection_var,omitempty"`

	// ItemVar — переменная, в которую помещается текущий элемент
	// на каждой итерации (multi_instance).
	ItemVar string `json:"item_var,omitempty"`

	// Inner — вложенная activity, выполняемая на каждый элемент (multi_instance).
	Inner *Activity `json:"inner,omitempty"`

	// CompleteWhen — условие досрочного завершения итерации (multi_instance).
	CompleteWhen string `json:"complete_when,omitempty"`

	// AttachedTo — activity, к которой привязан boundary (error_boundary).
	AttachedTo string `json:"attached_to,omitempty"`

	// ErrorCode — код ошибки, который ловит boundary. Пусто — любой.
	ErrorCode string `json:"error_code,omitempty"`

	// HandlerTo — activity, на которую boundary перенаправляет выполнение.
	HandlerTo string `json:"handler_to,omitempty"`

	// Retry — политика повторных попыток (task-виды).
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут выполнения. Переопределяет DefaultTimeoutSec
	// определения.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// Compensable возвращает true, если activity участвует в saga-компенсации.
func (a *Activity) Compensable() bool {
	switch a.Kind {
	case KindServiceTask:
		return a.CompensationHandler != ""
	case KindSubProcess:
		return true
	default:
		return false
	}
}
