package plan

import xerrors "Orchestra-Engine/internal/errors"

// CodeInjectedFailure 标记内建 fail 处理函数主动产生的错误。
const CodeInjectedFailure xerrors.Code = "PLAN_INJECTED_FAILURE"

func init() {
	xerrors.Register(CodeInjectedFailure, xerrors.Attributes{
		Message:  "injected task failure",
		Severity: xerrors.SeverityWarning,
	})
}
