package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

// CreateInput 描述一次拖放：把 (课程, 讲师) 放到 (dayOfWeek, timeSlotIndex) 格子上。
// DayOfWeek 和 TimeSlotIndex 用指针区分 "缺失" 和合法的 0。
type CreateInput struct {
	DayOfWeek     *int   `json:"dayOfWeek" validate:"required,gte=0,lte=6"`
	TimeSlotIndex *int   `json:"timeSlotIndex" validate:"required,gte=0,lte=12"`
	Duration      int    `json:"duration" validate:"omitempty,gte=1,lte=13"`
	CourseID      string `json:"courseID" validate:"required"`
	InstructorID  string `json:"instructorID" validate:"required"`
}

// Create 乐观地插入条目。目标格子已有同一讲师的条目时转为更新；
// 远端唯一约束冲突时交给冲突处理；其他失败会撤销乐观插入。
func (s *Store) Create(ctx context.Context, in CreateInput) (*domain.ScheduleEntry, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	day, slot := *in.DayOfWeek, *in.TimeSlotIndex
	duration := in.Duration
	if duration == 0 {
		duration = 1
	}
	endTime, err := timeslot.EndTime(slot, duration)
	if err != nil {
		return nil, err
	}
	startTime := timeslot.SlotIndexToTime(slot)

	// 会话和临时条目要在同一次加锁内确定
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return nil, &domain.CreateError{Err: ErrNoActiveWeek}
	}
	if existing := s.findCellLocked(day, startTime, in.InstructorID); existing != nil {
		id := existing.ID
		s.mu.Unlock()

		if domain.IsTemporaryID(id) {
			cerr := &domain.CreateError{Err: domain.ErrPendingEntry}
			s.notifyError(ctx, cerr)
			return nil, cerr
		}
		s.logger.Info("目标格子已有课程，转为更新", "id", id, "day", day, "slot", startTime)
		return s.Update(ctx, id, cellPatch(in.CourseID, startTime, endTime, duration))
	}

	temp := &domain.ScheduleEntry{
		ID:           domain.TemporaryIDPrefix + uuid.NewString(),
		TenantID:     s.opts.TenantID,
		Year:         sess.week.Year,
		WeekNumber:   sess.week.Number,
		DayOfWeek:    day,
		TimeSlot:     startTime,
		StartTime:    startTime,
		EndTime:      endTime,
		Duration:     duration,
		CourseID:     in.CourseID,
		InstructorID: in.InstructorID,
	}
	s.entries = append(s.entries, temp)
	s.mu.Unlock()

	opCtx, done := bind(ctx, sess)
	defer done()

	created, err := s.remote.InsertEntry(opCtx, temp.Clone())
	switch {
	case err == nil:
		s.mu.Lock()
		if s.isCurrentLocked(sess) {
			s.removeLocked(temp.ID)
			s.writes.record(created.ID, created.Version)
			// 变更推送可能先于响应到达，upsert 按 id 去重
			s.upsertLocked(created)
		}
		s.mu.Unlock()

		s.notifySuccess(ctx, "课程已添加", created, "添加")
		return created.Clone(), nil

	case errors.Is(err, domain.ErrUniqueViolation):
		return s.resolveConflict(ctx, sess, temp)

	default:
		s.rollback(sess, temp.ID)
		cerr := &domain.CreateError{Err: err}
		s.notifyError(ctx, cerr)
		return nil, cerr
	}
}

func (s *Store) validateInput(in CreateInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	fe := validationErrors[0]
	if fe.Tag() == "required" {
		return &domain.MissingFieldError{Field: fe.Field()}
	}
	return fmt.Errorf("%w: %s", domain.ErrOutOfRange, fe.Field())
}

func (s *Store) findCellLocked(day int, slot, instructorID string) *domain.ScheduleEntry {
	for _, e := range s.entries {
		if e.DayOfWeek == day && e.InstructorID == instructorID && timeslot.SameSlot(e.TimeSlot, slot) {
			return e
		}
	}
	return nil
}

func cellPatch(courseID, startTime, endTime string, duration int) domain.EntryPatch {
	return domain.EntryPatch{
		TimeSlot:  &startTime,
		StartTime: &startTime,
		EndTime:   &endTime,
		Duration:  &duration,
		CourseID:  &courseID,
	}
}
