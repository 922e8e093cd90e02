package engine

import (
	"github.com/shaiso/Dirigent/internal/domain"
)

// Context — фасад данных экземпляра для выполняющейся activity.
//
// Экспонирует input/variables/output как единую структуру данных
// для jsonpath-выражений и условий:
//
//	$.input.<имя>     — вход экземпляра (только чтение)
//	$.variables.<имя> — переменные процесса
//	$.output.<имя>    — выход последней завершённой activity
//
// Для параллельных веток контекст несёт branch-scoped overlay:
// записи ветки ложатся в overlay и сливаются в базовые переменные
// на join в порядке идентификаторов веток.
type Context struct {
	inst *domain.ProcessInstance

	// overlay — переменные ветки; nil для основного потока.
	overlay map[string]any

	// lastOutput — выход последней завершённой activity.
	lastOutput map[string]any

	branchID string
}

// NewContext создаёт контекст основного потока экземпляра.
func NewContext(inst *domain.ProcessInstance) *Context {
	return &Context{inst: inst}
}

// Branch создаёт контекст параллельной ветки с собственным overlay.
func (c *Context) Branch(branchID string) *Context {
	return &Context{
		inst:     c.inst,
		overlay:  make(map[string]any),
		branchID: branchID,
	}
}

// BranchID возвращает идентификатор ветки; пусто для основного потока.
func (c *Context) BranchID() string {
	return c.branchID
}

// Data возвращает данные контекста для jsonpath и условий.
func (c *Context) Data() map[string]any {
	return map[string]any{
		"input":     c.inst.Input,
		"variables": c.Variables(),
		"output":    c.lastOutput,
	}
}

// Variables возвращает объединённый снимок переменных
// (базовые + overlay ветки).
func (c *Context) Variables() map[string]any {
	if c.overlay == nil {
		return c.inst.Variables
	}
	merged := make(map[string]any, len(c.inst.Variables)+len(c.overlay))
	for k, v := range c.inst.Variables {
		merged[k] = v
	}
	for k, v := range c.overlay {
		merged[k] = v
	}
	return merged
}

// GetVariable возвращает переменную; overlay ветки имеет приоритет.
func (c *Context) GetVariable(name string) (any, bool) {
	if c.overlay != nil {
		if v, ok := c.overlay[name]; ok {
			return v, true
		}
	}
	v, ok := c.inst.Variables[name]
	return v, ok
}

// SetVariable записывает переменную: в overlay ветки либо в базовые.
func (c *Context) SetVariable(name string, value any) {
	if c.overlay != nil {
		c.overlay[name] = value
		return
	}
	if c.inst.Variables == nil {
		c.inst.Variables = make(map[string]any)
	}
	c.inst.Variables[name] = value
}

// FoldOutput вносит выход activity в переменные и запоминает его
// как выход последней activity.
func (c *Context) FoldOutput(output map[string]any) {
	for k, v := range output {
		c.SetVariable(k, v)
	}
	if output != nil {
		c.lastOutput = output
	}
}

// LastOutput возвращает выход последней завершённой activity.
func (c *Context) LastOutput() map[string]any {
	return c.lastOutput
}

// Overlay возвращает overlay ветки; nil для основного потока.
func (c *Context) Overlay() map[string]any {
	return c.overlay
}

// MergeOverlay сливает overlay ветки в базовые переменные.
func (c *Context) MergeOverlay(overlay map[string]any) {
	if c.inst.Variables == nil {
		c.inst.Variables = make(map[string]any)
	}
	for k, v := range overlay {
		c.inst.Variables[k] = v
	}
}
