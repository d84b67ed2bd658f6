package pipeline

import (
	"fmt"
)

// TransientError 是可重试的调度失败：超时、网络错误、5xx、限流等。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError 是单件装备不可恢复的失败。Attempts 记录已经发出的请求次数。
type TerminalError struct {
	EquipmentID string
	Attempts    int
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("equipment %s failed after %d attempt(s): %v", e.EquipmentID, e.Attempts, e.Err)
}
func (e *TerminalError) Unwrap() error { return e.Err }

// PersistenceError 表示批次落盘失败，整个运行必须中止。
type PersistenceError struct {
	Batch int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint flush of batch %d failed: %v", e.Batch, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// InputValidationError 表示图片目录结构不合法，在任何调度之前报告。
type InputValidationError struct {
	Path   string
	Reason string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid image directory %q: %s", e.Path, e.Reason)
}
