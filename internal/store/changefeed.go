package store

import (
	"context"
	"fmt"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

// ChannelName 是某个租户某一周的订阅名。
func ChannelName(tenantID string, week domain.Week) string {
	return fmt.Sprintf("weekly_schedules:%s:%s", tenantID, week)
}

func (s *Store) consume(sess *session, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.applyChange(sess.ctx, sess, ev)
		}
	}
}

// ApplyChange 把一条远端变更合并进当前周的本地视图。
func (s *Store) ApplyChange(ctx context.Context, ev domain.ChangeEvent) {
	sess, err := s.current()
	if err != nil {
		return
	}
	s.applyChange(ctx, sess, ev)
}

func (s *Store) applyChange(ctx context.Context, sess *session, ev domain.ChangeEvent) {
	row := ev.Row()
	if row == nil || row.ID == "" {
		return
	}
	if row.TenantID != "" && row.TenantID != s.opts.TenantID {
		return
	}

	if ev.Type == domain.ChangeDelete {
		// 删除不做回声抑制，但要记下 id，迟到的更新不能让它复活
		s.mu.Lock()
		if s.isCurrentLocked(sess) {
			s.writes.recordDelete(row.ID)
			s.removeLocked(row.ID)
		}
		s.mu.Unlock()
		return
	}

	row = row.Clone()
	inWeek := row.Week() == sess.week
	if inWeek {
		s.enrich(ctx, row)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrentLocked(sess) {
		return
	}
	if s.writes.covers(row.ID, row.Version) {
		s.logger.Debug("忽略本客户端写入的回声", "id", row.ID, "version", row.Version)
		return
	}

	if !inWeek {
		// 条目被移出了当前周
		if ev.Type == domain.ChangeUpdate {
			s.removeLocked(row.ID)
		}
		return
	}

	i := s.indexLocked(row.ID)
	switch ev.Type {
	case domain.ChangeInsert:
		if i >= 0 {
			return
		}
		s.entries = append(s.entries, row)
	case domain.ChangeUpdate:
		if i < 0 {
			s.entries = append(s.entries, row)
			return
		}
		if s.entries[i].Version >= row.Version {
			s.logger.Debug("忽略过期的变更", "id", row.ID, "local", s.entries[i].Version, "remote", row.Version)
			return
		}
		s.entries[i] = row
	}
}

// enrich 补全推送中缺少的联表展示数据，失败时保留原始行。
func (s *Store) enrich(ctx context.Context, row *domain.ScheduleEntry) {
	if s.directory == nil {
		return
	}

	if row.Course == nil && row.CourseID != "" {
		course, err := s.directory.Course(ctx, row.CourseID)
		if err != nil {
			s.logger.Debug("无法获取课程信息", "courseID", row.CourseID, "error", err)
		} else {
			row.Course = course
		}
	}

	if row.InstructorProfile == nil && row.InstructorID != "" {
		profile, err := s.directory.Instructor(ctx, row.InstructorID)
		if err != nil {
			s.logger.Debug("无法获取讲师信息", "instructorID", row.InstructorID, "error", err)
		} else {
			row.InstructorProfile = profile
		}
	}
}
