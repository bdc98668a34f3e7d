package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

// Update 先写远端，再用远端返回的整行替换本地条目，不在本地合并 patch。
func (s *Store) Update(ctx context.Context, id string, patch domain.EntryPatch) (*domain.ScheduleEntry, error) {
	if domain.IsTemporaryID(id) {
		uerr := &domain.UpdateError{Err: domain.ErrPendingEntry}
		s.notifyError(ctx, uerr)
		return nil, uerr
	}

	sess, err := s.current()
	if err != nil {
		return nil, &domain.UpdateError{Err: err}
	}

	patch, err = s.resolveTimes(id, patch)
	if err != nil {
		uerr := &domain.UpdateError{Err: err}
		s.notifyError(ctx, uerr)
		return nil, uerr
	}

	updated, err := s.applyUpdate(ctx, sess, id, patch, "")
	if err != nil {
		uerr := &domain.UpdateError{Err: err}
		s.notifyError(ctx, uerr)
		return nil, uerr
	}

	s.notifySuccess(ctx, "课程已更新", updated, "更新")
	return updated, nil
}

// Move 把条目移动到新的格子，重新计算起止时间。
func (s *Store) Move(ctx context.Context, id string, day, slotIndex, duration int) (*domain.ScheduleEntry, error) {
	if !timeslot.ValidDay(day) {
		return nil, fmt.Errorf("%w: dayOfWeek %d", domain.ErrOutOfRange, day)
	}
	endTime, err := timeslot.EndTime(slotIndex, duration)
	if err != nil {
		return nil, err
	}
	startTime := timeslot.SlotIndexToTime(slotIndex)

	return s.Update(ctx, id, domain.EntryPatch{
		DayOfWeek: &day,
		TimeSlot:  &startTime,
		StartTime: &startTime,
		EndTime:   &endTime,
		Duration:  &duration,
	})
}

// Resize 保持开始时间不变，按新的时长重新计算结束时间。
// 存储的开始时间不是标准时段时返回 InvalidSlotError，不做修正。
func (s *Store) Resize(ctx context.Context, id string, duration int) (*domain.ScheduleEntry, error) {
	s.mu.Lock()
	entry := s.lookupLocked(id)
	var startTime string
	if entry != nil {
		startTime = entry.StartTime
	}
	s.mu.Unlock()

	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}

	start, ok := timeslot.SlotIndex(startTime)
	if !ok {
		return nil, &domain.InvalidSlotError{Value: startTime}
	}
	endTime, err := timeslot.EndTime(start, duration)
	if err != nil {
		return nil, err
	}

	return s.Update(ctx, id, domain.EntryPatch{
		Duration: &duration,
		EndTime:  &endTime,
	})
}

// Remove 删除远端条目后移除本地条目，并再次确认远端已不存在。
func (s *Store) Remove(ctx context.Context, id string) error {
	if domain.IsTemporaryID(id) {
		derr := &domain.DeleteError{Err: domain.ErrPendingEntry}
		s.notifyError(ctx, derr)
		return derr
	}

	sess, err := s.current()
	if err != nil {
		return &domain.DeleteError{Err: err}
	}

	s.mu.Lock()
	var removed *domain.ScheduleEntry
	if e := s.lookupLocked(id); e != nil {
		removed = e.Clone()
	}
	s.mu.Unlock()

	opCtx, done := bind(ctx, sess)
	defer done()

	if err := s.remote.DeleteEntry(opCtx, id); err != nil {
		if !errors.Is(err, domain.ErrEntryNotFound) {
			derr := &domain.DeleteError{Err: err}
			s.notifyError(ctx, derr)
			return derr
		}
		// 已被其他客户端删除，本地同样移除即可
		s.logger.Info("条目在远端已不存在", "id", id)
	}

	s.mu.Lock()
	if s.isCurrentLocked(sess) {
		s.writes.recordDelete(id)
		s.removeLocked(id)
	}
	s.mu.Unlock()

	exists, err := s.remote.EntryExists(opCtx, id)
	switch {
	case err != nil:
		s.logger.Warn("删除后无法确认条目状态", "id", id, "error", err)
	case exists:
		// 读路径可能有延迟，这里只记录
		s.logger.Warn("删除后条目仍然可读", "id", id)
	}

	if removed == nil {
		removed = &domain.ScheduleEntry{ID: id, TenantID: s.opts.TenantID}
	}
	s.notifySuccess(ctx, "课程已删除", removed, "删除")
	return nil
}

// resolveTimes 把 patch 中的时间字段补全为一致的一组：timeSlot 等于 startTime，
// endTime 是 startTime 之后 duration 小时。缺失的字段取本地条目的当前值。
// 不涉及时间的 patch 原样返回。
func (s *Store) resolveTimes(id string, patch domain.EntryPatch) (domain.EntryPatch, error) {
	if patch.DayOfWeek != nil && !timeslot.ValidDay(*patch.DayOfWeek) {
		return patch, fmt.Errorf("%w: dayOfWeek %d", domain.ErrOutOfRange, *patch.DayOfWeek)
	}
	if patch.TimeSlot == nil && patch.StartTime == nil && patch.EndTime == nil && patch.Duration == nil {
		return patch, nil
	}

	s.mu.Lock()
	var current *domain.ScheduleEntry
	if e := s.lookupLocked(id); e != nil {
		current = e.Clone()
	}
	s.mu.Unlock()

	var startTime string
	switch {
	case patch.StartTime != nil:
		startTime = *patch.StartTime
		if patch.TimeSlot != nil && !timeslot.SameSlot(*patch.TimeSlot, startTime) {
			return patch, fmt.Errorf("%w: timeSlot %s 与 startTime %s 不一致", domain.ErrOutOfRange, *patch.TimeSlot, startTime)
		}
	case patch.TimeSlot != nil:
		startTime = *patch.TimeSlot
	case current != nil:
		startTime = current.StartTime
	default:
		return patch, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}

	start, ok := timeslot.SlotIndex(startTime)
	if !ok {
		return patch, &domain.InvalidSlotError{Value: startTime}
	}

	var duration int
	switch {
	case patch.Duration != nil:
		duration = *patch.Duration
	case patch.EndTime != nil:
		end, ok := timeslot.EndIndex(*patch.EndTime)
		if !ok {
			return patch, &domain.InvalidSlotError{Value: *patch.EndTime}
		}
		duration = end - start
	case current != nil:
		duration = current.Duration
	default:
		return patch, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}

	endTime, err := timeslot.EndTime(start, duration)
	if err != nil {
		return patch, err
	}
	if patch.EndTime != nil && !timeslot.SameSlot(*patch.EndTime, endTime) {
		return patch, fmt.Errorf("%w: endTime %s 与时长 %d 不一致", domain.ErrOutOfRange, *patch.EndTime, duration)
	}

	startTime = timeslot.SlotIndexToTime(start)
	timeSlot := startTime
	patch.TimeSlot = &timeSlot
	patch.StartTime = &startTime
	patch.EndTime = &endTime
	patch.Duration = &duration
	return patch, nil
}

// applyUpdate 执行远端更新并把结果写入本地视图；dropID 非空时同时移除对应的临时条目。
func (s *Store) applyUpdate(ctx context.Context, sess *session, id string, patch domain.EntryPatch, dropID string) (*domain.ScheduleEntry, error) {
	opCtx, done := bind(ctx, sess)
	defer done()

	updated, err := s.remote.UpdateEntry(opCtx, id, patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrentLocked(sess) {
		return updated.Clone(), nil
	}

	if dropID != "" {
		s.removeLocked(dropID)
	}
	s.writes.record(updated.ID, updated.Version)
	if updated.Week() == sess.week {
		s.upsertLocked(updated)
	} else {
		s.removeLocked(updated.ID)
	}

	return updated.Clone(), nil
}
