package store

import (
	"context"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

func (s *Store) notifySuccess(ctx context.Context, msg string, entry *domain.ScheduleEntry, action string) {
	if s.notifier == nil {
		return
	}

	n := domain.Notification{
		Level:    domain.NotificationSuccess,
		TenantID: s.opts.TenantID,
		Message:  msg,
		EntryID:  entry.ID,
	}

	// 讲师有邮箱时附带邮件内容，由 notify worker 负责发送
	if entry.InstructorProfile != nil && entry.InstructorProfile.Email != "" {
		data := &domain.ScheduleMailData{
			FullName:  entry.InstructorProfile.FullName,
			Week:      entry.Week().String(),
			DayOfWeek: entry.DayOfWeek,
			StartTime: entry.StartTime,
			EndTime:   entry.EndTime,
			Action:    action,
		}
		if entry.Course != nil {
			data.CourseName = entry.Course.Name
		}
		n.Recipient = entry.InstructorProfile.Email
		n.Data = data
	}

	s.notifier.Notify(ctx, n)
}

func (s *Store) notifyError(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}

	s.notifier.Notify(ctx, domain.Notification{
		Level:    domain.NotificationError,
		TenantID: s.opts.TenantID,
		Message:  domain.UserMessage(err),
	})
}
