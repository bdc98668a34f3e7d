package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUniqueViolation    = errors.New("unique constraint violation")
	ErrEntryNotFound      = errors.New("schedule entry not found")
	ErrPendingEntry       = errors.New("schedule entry not acknowledged yet")
	ErrConflictUnresolved = errors.New("unique constraint fired but no conflicting row is visible")
	ErrOutOfRange         = errors.New("value out of range")
)

// MissingFieldError 在发起任何网络请求之前返回，0 是合法值，不算缺失。
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// InvalidSlotError 表示存储中的时间不对应任何标准时段，属于上游数据问题，不做猜测。
type InvalidSlotError struct {
	Value string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("time %q does not match any canonical slot", e.Value)
}

type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return "fetch schedule: " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

type CreateError struct {
	Err error
}

func (e *CreateError) Error() string { return "create schedule entry: " + e.Err.Error() }
func (e *CreateError) Unwrap() error { return e.Err }

type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string { return "update schedule entry: " + e.Err.Error() }
func (e *UpdateError) Unwrap() error { return e.Err }

type DeleteError struct {
	Err error
}

func (e *DeleteError) Error() string { return "delete schedule entry: " + e.Err.Error() }
func (e *DeleteError) Unwrap() error { return e.Err }

// UserMessage 把错误翻译为面向用户的提示，与内部错误文本区分开。
func UserMessage(err error) string {
	var (
		missing *MissingFieldError
		invalid *InvalidSlotError
		fetch   *FetchError
		create  *CreateError
		update  *UpdateError
		del     *DeleteError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing):
		return fmt.Sprintf("缺少必填字段：%s", missing.Field)
	case errors.As(err, &invalid):
		return fmt.Sprintf("课表数据异常：时间 %s 不是有效的时段", invalid.Value)
	case errors.Is(err, ErrOutOfRange):
		return "时间或日期超出课表范围"
	case errors.Is(err, ErrPendingEntry):
		return "该课程仍在保存中，请稍后再试"
	case errors.Is(err, ErrConflictUnresolved):
		return "时间段冲突，已刷新课表，请重试"
	case errors.Is(err, ErrEntryNotFound):
		return "课表条目不存在"
	case errors.Is(err, ErrUniqueViolation):
		return "该时间段已被占用"
	case errors.As(err, &fetch):
		return "加载课表失败，请重试"
	case errors.As(err, &create):
		return "添加课程失败：" + create.Err.Error()
	case errors.As(err, &update):
		return "更新课程失败：" + update.Err.Error()
	case errors.As(err, &del):
		return "删除课程失败：" + del.Err.Error()
	default:
		return "操作失败，请重试"
	}
}
