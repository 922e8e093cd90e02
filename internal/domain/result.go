package domain

import "errors"

// Коды ошибок выполнения activity.
const (
	// CodeNoPath — ни одно условие gateway не сработало и нет пути
	// по умолчанию.
	CodeNoPath = "NO_PATH"

	// CodeSecurityViolation — handler не найден в allow-list реестра
	// или не реализует требуемую capability.
	CodeSecurityViolation = "SECURITY_VIOLATION"

	// CodeActivityError — общая ошибка выполнения activity.
	CodeActivityError = "ACTIVITY_ERROR"

	// CodeTimeout — выполнение activity превысило таймаут.
	CodeTimeout = "TIMEOUT"

	// CodeScriptError — ошибка выполнения скрипта.
	CodeScriptError = "SCRIPT_ERROR"

	// CodeActivityLimit — превышен потолок выполнений activities за запуск.
	CodeActivityLimit = "ACTIVITY_LIMIT"

	// CodeSubProcessFailed — под-процесс завершился неуспешно.
	CodeSubProcessFailed = "SUBPROCESS_FAILED"
)

// ErrAmbiguousResult — ActivityResult задаёт больше одного эффекта.
var ErrAmbiguousResult = errors.New("activity result has more than one effect")

// Failure — описание ошибки выполнения activity.
type Failure struct {
	// Code — машинный код ошибки (см. Code* константы).
	Code string `json:"code"`

	// Message — человекочитаемое описание.
	Message string `json:"message"`
}

// ActivityResult — результат выполнения одной activity.
//
// Чистое значение: никогда не персистится напрямую, движок сворачивает
// его в ProcessInstance. Ровно один из четырёх эффектов должен быть задан:
//
//	NextActivityID   — явный одиночный переход
//	ParallelNextIDs  — параллельный fan-out
//	SuspendBookmark  — приостановка с bookmark
//	Failure          — падение
//
// Все четыре пустые — движок резолвит следующий шаг по transitions.
type ActivityResult struct {
	// Success — успешность выполнения. false ⇔ Failure != nil.
	Success bool `json:"success"`

	// Output — выходные данные activity.
	Output map[string]any `json:"output,omitempty"`

	// NextActivityID — явный следующий шаг.
	NextActivityID string `json:"next_activity_id,omitempty"`

	// ParallelNextIDs — ветки для параллельного выполнения.
	ParallelNextIDs []string `json:"parallel_next_ids,omitempty"`

	// SuspendBookmark — имя bookmark для приостановки.
	SuspendBookmark string `json:"suspend_bookmark,omitempty"`

	// SuspendPayload — данные, сохраняемые вместе с bookmark.
	SuspendPayload map[string]any `json:"suspend_payload,omitempty"`

	// Failure — ошибка выполнения.
	Failure *Failure `json:"failure,omitempty"`
}

// ResultContinue — успех без явного следующего шага: движок резолвит
// переход по transitions определения.
func ResultContinue(output map[string]any) ActivityResult {
	return ActivityResult{Success: true, Output: output}
}

// ResultNext — успех с явным следующим шагом.
func ResultNext(activityID string, output map[string]any) ActivityResult {
	return ActivityResult{Success: true, Output: output, NextActivityID: activityID}
}

// ResultParallel — успех с параллельным fan-out.
func ResultParallel(activityIDs []string) ActivityResult {
	return ActivityResult{Success: true, ParallelNextIDs: activityIDs}
}

// ResultSuspend — приостановка с bookmark.
func ResultSuspend(bookmark string, payload map[string]any) ActivityResult {
	return ActivityResult{Success: true, SuspendBookmark: bookmark, SuspendPayload: payload}
}

// ResultFailure — падение с кодом и сообщением.
func ResultFailure(code, message string) ActivityResult {
	return ActivityResult{Success: false, Failure: &Failure{Code: code, Message: message}}
}

// Validate проверяет взаимную исключительность эффектов.
func (r *ActivityResult) Validate() error {
	effects := 0
	if r.NextActivityID != "" {
		effects++
	}
	if len(r.ParallelNextIDs) > 0 {
		effects++
	}
	if r.SuspendBookmark != "" {
		effects++
	}
	if r.Failure != nil {
		effects++
	}
	if effects > 1 {
		return ErrAmbiguousResult
	}
	return nil
}
