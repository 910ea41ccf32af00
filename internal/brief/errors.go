package brief

import (
	"fmt"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

const (
	CodeDanglingReference xerrors.Code = "DANGLING_REFERENCE"
	CodeEntityNotFound    xerrors.Code = "ENTITY_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeDanglingReference, xerrors.Attributes{
		Message:  "parent reference does not exist",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeEntityNotFound, xerrors.Attributes{
		Message:  "entity not found",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrDanglingReference 可用于 errors.Is 判断。
	ErrDanglingReference = xerrors.New(CodeDanglingReference, "")
	// ErrEntityNotFound 表示按 ID 查找的实体不存在。
	ErrEntityNotFound = xerrors.New(CodeEntityNotFound, "")
)

// DanglingReferenceError 表示插入的实体引用了不存在的父级。
type DanglingReferenceError struct {
	Kind     Kind
	ParentID string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s references missing parent %q", e.Kind, e.ParentID)
}

func (e *DanglingReferenceError) Unwrap() error {
	return ErrDanglingReference
}
