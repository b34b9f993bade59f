package timeline

// Status 编辑操作的结果
type Status string

const (
	// StatusApplied 按请求执行
	StatusApplied Status = "applied"
	// StatusClamped 输入被修正后执行
	StatusClamped Status = "clamped"
	// StatusRejected 未执行（前置条件不满足或无变化）
	StatusRejected Status = "rejected"
)

// Result lets callers tell "applied as requested" from "clamped" and "rejected"
// without inspecting state. ID carries the id of a created entity.
type Result struct {
	Status Status `json:"status"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Rejected 是否为空操作
func (r Result) Rejected() bool {
	return r.Status == StatusRejected
}

func applied(id string) Result {
	return Result{Status: StatusApplied, ID: id}
}

func clampedIf(clamped bool, id, reason string) Result {
	if clamped {
		return Result{Status: StatusClamped, ID: id, Reason: reason}
	}
	return applied(id)
}

func rejected(reason string) Result {
	return Result{Status: StatusRejected, Reason: reason}
}
