package store

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

// resolveConflict 在插入触发唯一约束后，把这次拖放转为对已有条目的更新。
// 本地缓存可能过期，所以按 (周, 天, 讲师) 直接查询远端。
func (s *Store) resolveConflict(ctx context.Context, sess *session, temp *domain.ScheduleEntry) (*domain.ScheduleEntry, error) {
	opCtx, done := bind(ctx, sess)
	defer done()

	candidates, err := s.remote.FindInstructorDay(opCtx, s.opts.TenantID, sess.week, temp.DayOfWeek, temp.InstructorID)
	if err != nil {
		s.rollback(sess, temp.ID)
		return nil, s.failCreate(ctx, err)
	}

	target, exact := pickCandidate(candidates, temp.TimeSlot)
	if target == nil {
		// 约束已触发却看不到冲突行，说明存在竞争，不去猜测
		s.logger.Warn("唯一约束冲突但远端没有可见的冲突条目，重新加载课表",
			"week", sess.week.String(), "day", temp.DayOfWeek, "slot", temp.TimeSlot, "instructor", temp.InstructorID)
		s.rollback(sess, temp.ID)
		if _, err := s.refresh(ctx, sess); err != nil {
			s.logger.Warn("重新加载课表失败", "error", err)
		}
		return nil, s.failCreate(ctx, domain.ErrConflictUnresolved)
	}

	if exact {
		s.logger.Info("唯一约束冲突，覆盖已有条目", "id", target.ID, "slot", temp.TimeSlot)
	} else {
		// 冲突行的时段与目标不同，可能掩盖了上游的重复排课
		s.logger.Warn("唯一约束冲突但没有同时段条目，改为覆盖该讲师当天的第一条",
			"id", target.ID, "wantSlot", temp.TimeSlot, "gotSlot", target.TimeSlot,
			"day", temp.DayOfWeek, "instructor", temp.InstructorID)
	}

	patch := cellPatch(temp.CourseID, temp.StartTime, temp.EndTime, temp.Duration)
	updated, err := s.applyUpdate(ctx, sess, target.ID, patch, temp.ID)
	if err != nil {
		s.rollback(sess, temp.ID)
		return nil, s.failCreate(ctx, err)
	}

	s.scheduleRefetch(sess)
	s.notifySuccess(ctx, "课程已替换", updated, "替换")
	return updated, nil
}

// pickCandidate 优先选同一时段的条目，否则退回第一条。
func pickCandidate(candidates []*domain.ScheduleEntry, slot string) (*domain.ScheduleEntry, bool) {
	for _, c := range candidates {
		if timeslot.SameSlot(c.TimeSlot, slot) {
			return c, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], false
	}
	return nil, false
}

// scheduleRefetch 稍后重新拉取整周，消除残余的偏差。周切换后不再执行。
func (s *Store) scheduleRefetch(sess *session) {
	delay := s.opts.RefetchDelay
	if delay < 0 {
		return
	}

	time.AfterFunc(delay, func() {
		if sess.ctx.Err() != nil {
			return
		}
		if _, err := s.refresh(sess.ctx, sess); err != nil {
			s.logger.Warn("冲突处理后的重新加载失败", "error", err)
		}
	})
}

func (s *Store) failCreate(ctx context.Context, err error) error {
	cerr := &domain.CreateError{Err: err}
	s.notifyError(ctx, cerr)
	return cerr
}
