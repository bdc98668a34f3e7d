package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

// ── SwitchWeek / List ──

func TestStore_SwitchWeek_LoadsWeek(t *testing.T) {
	env := setupTestStore()
	env.remote.seed(1, 0, 2, "C1", "I1")
	env.remote.seed(2, 3, 1, "C2", "I2")
	env.remote.rows[1].WeekNumber = testWeek.Number + 1

	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "C1", entries[0].CourseID)
	require.NotNil(t, entries[0].Course)
	assert.Equal(t, "高等数学", entries[0].Course.Name)

	week, ok := env.store.Week()
	assert.True(t, ok)
	assert.Equal(t, testWeek, week)
	assert.True(t, env.feed.active(ChannelName(testTenant, testWeek)))
}

func TestStore_List_FetchError(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	env.remote.listErr = errors.New("connection refused")
	_, err := env.store.List(context.Background())

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "加载课表失败，请重试", domain.UserMessage(err))
}

func TestStore_OperationsWithoutWeek(t *testing.T) {
	env := setupTestStore()

	_, err := env.store.List(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveWeek)

	_, err = env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(0), TimeSlotIndex: intPtr(0), CourseID: "C1", InstructorID: "I1",
	})
	assert.ErrorIs(t, err, ErrNoActiveWeek)
}

// ── Create ──

func TestStore_Create_ReplacesTemporaryID(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	created, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek:     intPtr(0),
		TimeSlotIndex: intPtr(0),
		Duration:      2,
		CourseID:      "C1",
		InstructorID:  "I1",
	})
	require.NoError(t, err)
	assert.False(t, domain.IsTemporaryID(created.ID))
	assert.Equal(t, "08:00", created.StartTime)
	assert.Equal(t, "10:00", created.EndTime)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].ID)
	for _, e := range entries {
		assert.False(t, domain.IsTemporaryID(e.ID), "本地不应残留临时 id")
	}

	assert.Equal(t, []domain.NotificationLevel{domain.NotificationSuccess}, env.notifier.levels())
	last := env.notifier.last()
	assert.Equal(t, "zhangsan@example.edu", last.Recipient)
	require.NotNil(t, last.Data)
	assert.Equal(t, "高等数学", last.Data.CourseName)
}

func TestStore_Create_OptimisticEntryVisibleBeforeAck(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	entered := make(chan struct{})
	release := make(chan struct{})
	env.remote.beforeInsert = func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.store.Create(context.Background(), CreateInput{
			DayOfWeek: intPtr(3), TimeSlotIndex: intPtr(4), CourseID: "C2", InstructorID: "I2",
		})
		done <- err
	}()

	<-entered
	pending := env.store.Entries()
	require.Len(t, pending, 1)
	assert.True(t, domain.IsTemporaryID(pending[0].ID))
	assert.Equal(t, "12:00", pending[0].TimeSlot)

	close(release)
	require.NoError(t, <-done)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.False(t, domain.IsTemporaryID(entries[0].ID))
}

func TestStore_Create_MissingFields(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	before := env.store.Entries()

	_, err := env.store.Create(context.Background(), CreateInput{
		TimeSlotIndex: intPtr(0), CourseID: "C1", InstructorID: "I1",
	})
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "dayOfWeek", missing.Field)

	_, err = env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(0), CourseID: "C1", InstructorID: "I1",
	})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "timeSlotIndex", missing.Field)

	_, insertCalls, _, _ := env.remote.calls()
	assert.Equal(t, 0, insertCalls, "校验失败时不应发起网络请求")
	assert.Equal(t, before, env.store.Entries())
	assert.Empty(t, env.notifier.levels())
}

func TestStore_Create_ZeroIsNotMissing(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	created, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(0), TimeSlotIndex: intPtr(0), CourseID: "C1", InstructorID: "I1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, created.DayOfWeek)
	assert.Equal(t, "08:00", created.TimeSlot)
	assert.Equal(t, 1, created.Duration)
	assert.Equal(t, "09:00", created.EndTime)
}

func TestStore_Create_OutOfRange(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	cases := []CreateInput{
		{DayOfWeek: intPtr(7), TimeSlotIndex: intPtr(0), CourseID: "C1", InstructorID: "I1"},
		{DayOfWeek: intPtr(0), TimeSlotIndex: intPtr(13), CourseID: "C1", InstructorID: "I1"},
		{DayOfWeek: intPtr(0), TimeSlotIndex: intPtr(12), Duration: 2, CourseID: "C1", InstructorID: "I1"},
		{DayOfWeek: intPtr(0), TimeSlotIndex: intPtr(0), Duration: -1, CourseID: "C1", InstructorID: "I1"},
	}
	for _, in := range cases {
		_, err := env.store.Create(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
	}
	assert.Empty(t, env.store.Entries())
}

func TestStore_Create_OntoOccupiedCellUpdatesExisting(t *testing.T) {
	env := setupTestStore()
	existing := env.remote.seed(2, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	got, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), CourseID: "C2", InstructorID: "I1",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)

	entries := env.store.Entries()
	assert.Equal(t, 1, countCell(entries, 2, "08:00", "I1"))
	assert.Equal(t, "C2", entries[0].CourseID)
	assert.Equal(t, 1, env.remote.count())

	_, insertCalls, updateCalls, _ := env.remote.calls()
	assert.Equal(t, 0, insertCalls, "本地已有条目时不应插入")
	assert.Equal(t, 1, updateCalls)
}

func TestStore_Create_OccupiedCellMatchesUnpaddedStoredSlot(t *testing.T) {
	env := setupTestStore()
	existing := env.remote.seed(4, 1, 1, "C1", "I1")
	env.remote.rows[0].TimeSlot = "9:00"
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	got, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(4), TimeSlotIndex: intPtr(1), CourseID: "C3", InstructorID: "I1",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Len(t, env.store.Entries(), 1)
}

func TestStore_Create_RollbackOnFailure(t *testing.T) {
	env := setupTestStore()
	env.remote.seed(1, 0, 1, "C1", "I1")
	env.remote.seed(1, 5, 2, "C2", "I2")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	before := env.store.Entries()

	env.remote.insertErr = errors.New("network unreachable")
	_, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(3), TimeSlotIndex: intPtr(2), CourseID: "C3", InstructorID: "I1",
	})

	var createErr *domain.CreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, before, env.store.Entries(), "失败后本地状态应与调用前完全一致")
	assert.Equal(t, []domain.NotificationLevel{domain.NotificationError}, env.notifier.levels())
	assert.Equal(t, "添加课程失败：network unreachable", env.notifier.last().Message)
}

func TestStore_Create_FeedDeliveredBeforeAck(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	env.remote.afterInsert = func(row *domain.ScheduleEntry) {
		row.Course = nil
		row.InstructorProfile = nil
		env.store.ApplyChange(context.Background(), domain.ChangeEvent{Type: domain.ChangeInsert, New: row})
	}

	created, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(5), TimeSlotIndex: intPtr(6), CourseID: "C1", InstructorID: "I2",
	})
	require.NoError(t, err)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].ID)
}

// ── Conflict Resolver ──

func TestStore_Create_ConflictResolvedAgainstStaleCache(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	// 其他客户端写入的行，本地缓存还没有看到
	occupant := env.remote.seed(2, 0, 1, "C1", "I1")

	got, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), CourseID: "C2", InstructorID: "I1",
	})
	require.NoError(t, err)
	assert.Equal(t, occupant.ID, got.ID)
	assert.Equal(t, "C2", got.CourseID)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, occupant.ID, entries[0].ID)
	assert.Equal(t, "C2", entries[0].CourseID)
	assert.Equal(t, 1, env.remote.count())
	assert.Equal(t, "C2", env.remote.row(occupant.ID).CourseID)

	assert.Equal(t, []domain.NotificationLevel{domain.NotificationSuccess}, env.notifier.levels())
	assert.Equal(t, "课程已替换", env.notifier.last().Message)
}

func TestStore_Create_ConflictFallsBackToFirstRow(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	first := env.remote.seed(2, 4, 1, "C1", "I1")
	env.remote.seed(2, 7, 1, "C3", "I1")
	env.remote.insertErr = domain.ErrUniqueViolation

	got, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), Duration: 2, CourseID: "C2", InstructorID: "I1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "08:00", got.TimeSlot)
	assert.Equal(t, "10:00", got.EndTime)
	assert.Equal(t, 2, got.Duration)

	for _, e := range env.store.Entries() {
		assert.False(t, domain.IsTemporaryID(e.ID))
	}
}

func TestStore_Create_ConflictWithoutVisibleRow(t *testing.T) {
	env := setupTestStore()
	env.remote.seed(0, 0, 1, "C1", "I2")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	listBefore, _, _, _ := env.remote.calls()

	env.remote.insertErr = domain.ErrUniqueViolation
	_, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), CourseID: "C2", InstructorID: "I1",
	})

	var createErr *domain.CreateError
	require.ErrorAs(t, err, &createErr)
	assert.ErrorIs(t, err, domain.ErrConflictUnresolved)

	listAfter, _, updateCalls, findCalls := env.remote.calls()
	assert.Equal(t, listBefore+1, listAfter, "应重新加载整周")
	assert.Equal(t, 1, findCalls)
	assert.Equal(t, 0, updateCalls, "找不到冲突行时不应猜测")

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.False(t, domain.IsTemporaryID(entries[0].ID))
	assert.Equal(t, domain.NotificationError, env.notifier.last().Level)
}

func TestStore_Create_ConflictUpdateFails(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	before := env.store.Entries()

	env.remote.seed(2, 0, 1, "C1", "I1")
	env.remote.updateErr = errors.New("deadlock detected")

	_, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), CourseID: "C2", InstructorID: "I1",
	})
	var createErr *domain.CreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, before, env.store.Entries())
}

func TestStore_Create_ConflictSchedulesRefetch(t *testing.T) {
	env := setupTestStore()
	env.store.opts.RefetchDelay = 10 * time.Millisecond
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	listBefore, _, _, _ := env.remote.calls()

	env.remote.seed(2, 0, 1, "C1", "I1")
	_, err := env.store.Create(context.Background(), CreateInput{
		DayOfWeek: intPtr(2), TimeSlotIndex: intPtr(0), CourseID: "C2", InstructorID: "I1",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		list, _, _, _ := env.remote.calls()
		return list == listBefore+1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, env.store.Entries(), 1)
}

// ── Update / Move / Resize / Remove ──

func TestStore_Update_ReplacesWithServerRow(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(1, 2, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	courseID := "C3"
	got, err := env.store.Update(context.Background(), row.ID, domain.EntryPatch{CourseID: &courseID})
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Version)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "C3", entries[0].CourseID)
	require.NotNil(t, entries[0].Course)
	assert.Equal(t, "大学物理", entries[0].Course.Name, "联表数据应来自远端返回")
}

func TestStore_Update_SlotOccupied(t *testing.T) {
	env := setupTestStore()
	a := env.remote.seed(1, 2, 1, "C1", "I1")
	env.remote.seed(1, 3, 1, "C2", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))
	before := env.store.Entries()

	_, err := env.store.Move(context.Background(), a.ID, 1, 3, 1)

	var updateErr *domain.UpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.ErrorIs(t, err, domain.ErrUniqueViolation)
	assert.Equal(t, "该时间段已被占用", domain.UserMessage(err))
	assert.Equal(t, before, env.store.Entries())
	assert.Equal(t, "该时间段已被占用", env.notifier.last().Message)
}

func TestStore_Update_TemporaryID(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	_, err := env.store.Update(context.Background(), domain.TemporaryIDPrefix+"x", domain.EntryPatch{})
	assert.ErrorIs(t, err, domain.ErrPendingEntry)
	_, _, updateCalls, _ := env.remote.calls()
	assert.Equal(t, 0, updateCalls)
}

func TestStore_Update_DurationOnlyRecomputesEndTime(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	duration := 3
	got, err := env.store.Update(context.Background(), row.ID, domain.EntryPatch{Duration: &duration})
	require.NoError(t, err)
	assert.Equal(t, "08:00", got.TimeSlot)
	assert.Equal(t, "08:00", got.StartTime)
	assert.Equal(t, "11:00", got.EndTime)
	assert.Equal(t, 3, got.Duration)
}

func TestStore_Update_StartTimeOnlyMovesWholeBlock(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 2, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	startTime := "10:00"
	got, err := env.store.Update(context.Background(), row.ID, domain.EntryPatch{StartTime: &startTime})
	require.NoError(t, err)
	assert.Equal(t, "10:00", got.TimeSlot)
	assert.Equal(t, "10:00", got.StartTime)
	assert.Equal(t, "12:00", got.EndTime)
	assert.Equal(t, 2, got.Duration)

	stored := env.remote.row(row.ID)
	assert.Equal(t, "10:00", stored.TimeSlot)
	assert.Equal(t, "12:00", stored.EndTime)
}

func TestStore_Update_EndTimeOnlyDerivesDuration(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 1, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	endTime := "21:00"
	got, err := env.store.Update(context.Background(), row.ID, domain.EntryPatch{EndTime: &endTime})
	require.NoError(t, err)
	assert.Equal(t, 12, got.Duration)
	assert.Equal(t, "09:00", got.StartTime)
}

func TestStore_Update_InconsistentTimes(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	slot, start, end, tooLong, badDay := "09:00", "10:00", "12:00", 12, 7
	patches := []domain.EntryPatch{
		{TimeSlot: &slot, StartTime: &start},
		{StartTime: &start, EndTime: &end, Duration: intPtr(1)},
		{StartTime: &start, Duration: &tooLong},
		{DayOfWeek: &badDay},
	}
	for _, patch := range patches {
		_, err := env.store.Update(context.Background(), row.ID, patch)
		var updateErr *domain.UpdateError
		require.ErrorAs(t, err, &updateErr)
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
	}

	_, _, updateCalls, _ := env.remote.calls()
	assert.Equal(t, 0, updateCalls)
	assert.Equal(t, "09:00", env.store.Entries()[0].EndTime)
}

func TestStore_Update_InvalidStoredStart(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	env.remote.rows[0].StartTime = "08:30"
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	duration := 2
	_, err := env.store.Update(context.Background(), row.ID, domain.EntryPatch{Duration: &duration})
	var invalid *domain.InvalidSlotError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "08:30", invalid.Value)

	_, _, updateCalls, _ := env.remote.calls()
	assert.Equal(t, 0, updateCalls)
}

func TestStore_Update_PartialTimePatchForUnknownEntry(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	duration := 2
	_, err := env.store.Update(context.Background(), "missing", domain.EntryPatch{Duration: &duration})
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestStore_Move(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(1, 2, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	got, err := env.store.Move(context.Background(), row.ID, 4, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, got.DayOfWeek)
	assert.Equal(t, "13:00", got.TimeSlot)
	assert.Equal(t, "13:00", got.StartTime)
	assert.Equal(t, "16:00", got.EndTime)
	assert.Equal(t, 3, got.Duration)

	_, err = env.store.Move(context.Background(), row.ID, 7, 0, 1)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestStore_Resize_RoundTrip(t *testing.T) {
	for slot := 0; slot < timeslot.SlotCount; slot++ {
		env := setupTestStore()
		row := env.remote.seed(0, slot, 1, "C1", "I1")
		require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

		for duration := 1; duration <= timeslot.SlotCount-slot; duration++ {
			got, err := env.store.Resize(context.Background(), row.ID, duration)
			require.NoError(t, err, "slot=%d duration=%d", slot, duration)

			idx, ok := timeslot.SlotIndex(got.StartTime)
			require.True(t, ok)
			assert.Equal(t, slot, idx)
			assert.Equal(t, timeslot.SlotIndexToTime(slot+duration), got.EndTime)
			assert.Equal(t, duration, got.Duration)
		}
	}
}

func TestStore_Resize_InvalidStoredSlot(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	env.remote.rows[0].StartTime = "08:30"
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	_, err := env.store.Resize(context.Background(), row.ID, 2)
	var invalid *domain.InvalidSlotError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "08:30", invalid.Value)

	_, _, updateCalls, _ := env.remote.calls()
	assert.Equal(t, 0, updateCalls)
}

func TestStore_Resize_UnpaddedStoredSlot(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 1, 1, "C1", "I1")
	env.remote.rows[0].StartTime = "9:00"
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	got, err := env.store.Resize(context.Background(), row.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "12:00", got.EndTime)
}

func TestStore_Resize_Errors(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 12, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	_, err := env.store.Resize(context.Background(), row.ID, 2)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	_, err = env.store.Resize(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestStore_Remove(t *testing.T) {
	env := setupTestStore()
	keep := env.remote.seed(0, 0, 1, "C1", "I1")
	drop := env.remote.seed(0, 1, 1, "C2", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	require.NoError(t, env.store.Remove(context.Background(), drop.ID))

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, keep.ID, entries[0].ID)
	assert.Nil(t, env.remote.row(drop.ID))
	assert.Equal(t, "课程已删除", env.notifier.last().Message)
}

func TestStore_Remove_LingeringRowIsNotFatal(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	env.remote.lingering = true
	require.NoError(t, env.store.Remove(context.Background(), row.ID))
	assert.Empty(t, env.store.Entries())
}

func TestStore_Remove_Failure(t *testing.T) {
	env := setupTestStore()
	row := env.remote.seed(0, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	env.remote.deleteErr = errors.New("permission denied")
	err := env.store.Remove(context.Background(), row.ID)

	var deleteErr *domain.DeleteError
	require.ErrorAs(t, err, &deleteErr)
	assert.Len(t, env.store.Entries(), 1)
}

// ── 周切换 ──

func TestStore_SwitchWeek_DiscardsLateResults(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	entered := make(chan struct{})
	release := make(chan struct{})
	env.remote.beforeInsert = func(ctx context.Context) error {
		close(entered)
		// 忽略 ctx，模拟取消后仍然返回的请求
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.store.Create(context.Background(), CreateInput{
			DayOfWeek: intPtr(1), TimeSlotIndex: intPtr(1), CourseID: "C1", InstructorID: "I1",
		})
		done <- err
	}()

	<-entered
	nextWeek := domain.Week{Year: testWeek.Year, Number: testWeek.Number + 1}
	env.remote.beforeInsert = nil
	require.NoError(t, env.store.SwitchWeek(context.Background(), nextWeek))
	close(release)
	<-done

	assert.Empty(t, env.store.Entries(), "旧周的结果不应写入新周的视图")
	assert.True(t, env.feed.active(ChannelName(testTenant, nextWeek)))
	assert.Eventually(t, func() bool {
		return !env.feed.active(ChannelName(testTenant, testWeek))
	}, time.Second, 5*time.Millisecond)
}

func TestStore_Create_ConcurrentSwitchWeekKeepsViewInWeek(t *testing.T) {
	env := setupTestStore()
	nextWeek := domain.Week{Year: testWeek.Year, Number: testWeek.Number + 1}
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = env.store.Create(context.Background(), CreateInput{
				DayOfWeek: intPtr(i % 7), TimeSlotIndex: intPtr(i % 13), CourseID: "C1", InstructorID: "I1",
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			week := testWeek
			if i%2 == 0 {
				week = nextWeek
			}
			_ = env.store.SwitchWeek(context.Background(), week)
		}(i)
	}
	wg.Wait()

	// 最后一次切换之后所有请求都已返回，视图里只能有当前周的已确认条目
	week, ok := env.store.Week()
	require.True(t, ok)
	for _, e := range env.store.Entries() {
		assert.Equal(t, week, e.Week())
		assert.False(t, domain.IsTemporaryID(e.ID), "临时条目 %s 遗留在视图中", e.ID)
	}
}

func TestStore_SwitchWeek_CancelsInFlightRequests(t *testing.T) {
	env := setupTestStore()
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	entered := make(chan struct{})
	env.remote.beforeInsert = func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.store.Create(context.Background(), CreateInput{
			DayOfWeek: intPtr(1), TimeSlotIndex: intPtr(1), CourseID: "C1", InstructorID: "I1",
		})
		done <- err
	}()

	<-entered
	env.remote.beforeInsert = nil
	require.NoError(t, env.store.SwitchWeek(context.Background(), domain.Week{Year: 2025, Number: 10}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("切换周后在途请求应被取消")
	}
	assert.Empty(t, env.store.Entries())
}

func TestStore_Close(t *testing.T) {
	env := setupTestStore()
	env.remote.seed(0, 0, 1, "C1", "I1")
	require.NoError(t, env.store.SwitchWeek(context.Background(), testWeek))

	env.store.Close()
	assert.Empty(t, env.store.Entries())
	_, ok := env.store.Week()
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		return !env.feed.active(ChannelName(testTenant, testWeek))
	}, time.Second, 5*time.Millisecond)
}
