package service

import (
	"errors"
	"fmt"

	"github.com/d60-Lab/thought-board/internal/repository"
)

// ErrNotFoundOrForbidden 对调用方不区分“不存在”与“无权限”
var ErrNotFoundOrForbidden = repository.ErrNotFoundOrForbidden

// ValidationError 输入不合法，未写入任何数据
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Constraint)
}

// PersistenceError 存储失败，操作整体回滚
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// DeliveryError 落库成功后远端发送/删除失败，不回滚
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// ReconciliationAnomaly 恢复过程中单条消息无法解析或无法确定作者，只记录不终止
type ReconciliationAnomaly struct {
	ChannelID string
	MessageID string
	PostID    uint64
	Reason    string
}

func (a ReconciliationAnomaly) Error() string {
	return fmt.Sprintf("message %s/%s (post %d): %s", a.ChannelID, a.MessageID, a.PostID, a.Reason)
}

// UserMessage 给终端用户看的简短提示，不包含内部细节
func UserMessage(err error) string {
	var ve *ValidationError
	var pe *PersistenceError
	var de *DeliveryError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return fmt.Sprintf("Your %s is invalid: %s.", ve.Field, ve.Constraint)
	case errors.Is(err, ErrNotFoundOrForbidden):
		return "That thought does not exist or is not yours."
	case errors.As(err, &pe):
		return "Something went wrong saving your thought. Please try again later."
	case errors.As(err, &de):
		return "Your thought was saved, but it could not be posted."
	default:
		return "Something went wrong. Please try again later."
	}
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
