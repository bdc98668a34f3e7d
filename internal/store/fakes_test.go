package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

const testTenant = "tenant-1"

var testWeek = domain.Week{Year: 2025, Number: 3}

// ── Fake Remote ──

// fakeRemote 模拟 weekly_schedules 表，包括唯一约束和版本号递增。
type fakeRemote struct {
	mu      sync.Mutex
	rows    []*domain.ScheduleEntry
	courses map[string]*domain.Course
	people  map[string]*domain.InstructorProfile

	insertErr error
	updateErr error
	deleteErr error
	listErr   error

	// lingering 为 true 时删除后 EntryExists 仍返回 true
	lingering bool
	// beforeInsert 在插入前调用，可用于阻塞
	beforeInsert func(ctx context.Context) error
	// afterInsert 在插入成功、返回响应前调用
	afterInsert func(row *domain.ScheduleEntry)
	findHook    func(rows []*domain.ScheduleEntry) []*domain.ScheduleEntry

	listCalls   int
	insertCalls int
	updateCalls int
	findCalls   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		courses: map[string]*domain.Course{
			"C1": {ID: "C1", TenantID: testTenant, Name: "高等数学", DurationHours: 2},
			"C2": {ID: "C2", TenantID: testTenant, Name: "线性代数", DurationHours: 1},
			"C3": {ID: "C3", TenantID: testTenant, Name: "大学物理", DurationHours: 3},
		},
		people: map[string]*domain.InstructorProfile{
			"I1": {ID: "I1", TenantID: testTenant, Username: "zhangsan", FullName: "张三", Email: "zhangsan@example.edu"},
			"I2": {ID: "I2", TenantID: testTenant, Username: "lisi", FullName: "李四"},
		},
	}
}

// seed 直接写入一行，不经过 Store。
func (f *fakeRemote) seed(day int, slot int, duration int, courseID, instructorID string) *domain.ScheduleEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := timeslot.SlotIndexToTime(slot)
	row := &domain.ScheduleEntry{
		ID:           uuid.NewString(),
		TenantID:     testTenant,
		Year:         testWeek.Year,
		WeekNumber:   testWeek.Number,
		DayOfWeek:    day,
		TimeSlot:     start,
		StartTime:    start,
		EndTime:      timeslot.SlotIndexToTime(slot + duration),
		Duration:     duration,
		CourseID:     courseID,
		InstructorID: instructorID,
		Version:      1,
	}
	f.rows = append(f.rows, row)
	return f.joined(row)
}

func (f *fakeRemote) joined(row *domain.ScheduleEntry) *domain.ScheduleEntry {
	out := row.Clone()
	if c, ok := f.courses[row.CourseID]; ok {
		course := *c
		out.Course = &course
	}
	if p, ok := f.people[row.InstructorID]; ok {
		profile := *p
		out.InstructorProfile = &profile
	}
	return out
}

func (f *fakeRemote) conflictLocked(candidate *domain.ScheduleEntry, ignoreID string) bool {
	for _, r := range f.rows {
		if r.ID == ignoreID {
			continue
		}
		if r.Year == candidate.Year && r.WeekNumber == candidate.WeekNumber && r.DayOfWeek == candidate.DayOfWeek &&
			r.InstructorID == candidate.InstructorID && timeslot.SameSlot(r.TimeSlot, candidate.TimeSlot) {
			return true
		}
	}
	return false
}

func (f *fakeRemote) ListWeek(_ context.Context, tenantID string, week domain.Week) ([]*domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []*domain.ScheduleEntry
	for _, r := range f.rows {
		if r.TenantID == tenantID && r.Week() == week {
			out = append(out, f.joined(r))
		}
	}
	return out, nil
}

func (f *fakeRemote) FindInstructorDay(_ context.Context, tenantID string, week domain.Week, day int, instructorID string) ([]*domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.findCalls++
	var out []*domain.ScheduleEntry
	for _, r := range f.rows {
		if r.TenantID == tenantID && r.Week() == week && r.DayOfWeek == day && r.InstructorID == instructorID {
			out = append(out, f.joined(r))
		}
	}
	if f.findHook != nil {
		out = f.findHook(out)
	}
	return out, nil
}

func (f *fakeRemote) InsertEntry(ctx context.Context, entry *domain.ScheduleEntry) (*domain.ScheduleEntry, error) {
	if f.beforeInsert != nil {
		if err := f.beforeInsert(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.insertCalls++
	if f.insertErr != nil {
		err := f.insertErr
		f.mu.Unlock()
		return nil, err
	}
	if f.conflictLocked(entry, "") {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: weekly_schedules_slot_key", domain.ErrUniqueViolation)
	}

	row := entry.Clone()
	row.ID = uuid.NewString()
	row.Version = 1
	row.Course = nil
	row.InstructorProfile = nil
	f.rows = append(f.rows, row)
	out := f.joined(row)
	hook := f.afterInsert
	f.mu.Unlock()

	if hook != nil {
		hook(out.Clone())
	}
	return out, nil
}

func (f *fakeRemote) UpdateEntry(_ context.Context, id string, patch domain.EntryPatch) (*domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	for _, r := range f.rows {
		if r.ID != id {
			continue
		}
		next := r.Clone()
		if patch.DayOfWeek != nil {
			next.DayOfWeek = *patch.DayOfWeek
		}
		if patch.TimeSlot != nil {
			next.TimeSlot = *patch.TimeSlot
		}
		if patch.StartTime != nil {
			next.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			next.EndTime = *patch.EndTime
		}
		if patch.Duration != nil {
			next.Duration = *patch.Duration
		}
		if patch.CourseID != nil {
			next.CourseID = *patch.CourseID
		}
		if f.conflictLocked(next, id) {
			return nil, fmt.Errorf("%w: weekly_schedules_slot_key", domain.ErrUniqueViolation)
		}
		next.Version = r.Version + 1
		*r = *next
		return f.joined(r), nil
	}
	return nil, domain.ErrEntryNotFound
}

func (f *fakeRemote) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrEntryNotFound
}

func (f *fakeRemote) EntryExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lingering {
		return true, nil
	}
	for _, r := range f.rows {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRemote) row(id string) *domain.ScheduleEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rows {
		if r.ID == id {
			return r.Clone()
		}
	}
	return nil
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.rows)
}

func (f *fakeRemote) calls() (list, insert, update, find int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCalls, f.insertCalls, f.updateCalls, f.findCalls
}

// Directory 接口直接由 fakeRemote 的课程和讲师数据提供

func (f *fakeRemote) Course(_ context.Context, id string) (*domain.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %s not found", id)
	}
	course := *c
	return &course, nil
}

func (f *fakeRemote) Instructor(_ context.Context, id string) (*domain.InstructorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.people[id]
	if !ok {
		return nil, fmt.Errorf("instructor %s not found", id)
	}
	profile := *p
	return &profile, nil
}

// ── Fake Feed ──

type fakeFeed struct {
	mu       sync.Mutex
	channels map[string]chan domain.ChangeEvent
	names    []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{channels: make(map[string]chan domain.ChangeEvent)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, channel string) (<-chan domain.ChangeEvent, error) {
	ch := make(chan domain.ChangeEvent, 16)

	f.mu.Lock()
	f.channels[channel] = ch
	f.names = append(f.names, channel)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.channels[channel] == ch {
			delete(f.channels, channel)
		}
		f.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (f *fakeFeed) publish(channel string, ev domain.ChangeEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[channel]
	if !ok {
		return false
	}
	ch <- ev
	return true
}

func (f *fakeFeed) active(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.channels[channel]
	return ok
}

// ── Fake Notifier ──

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) levels() []domain.NotificationLevel {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]domain.NotificationLevel, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Level)
	}
	return out
}

func (n *fakeNotifier) last() domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.sent) == 0 {
		return domain.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

// ── 测试辅助 ──

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testEnv struct {
	store    *Store
	remote   *fakeRemote
	feed     *fakeFeed
	notifier *fakeNotifier
	clock    *fakeClock
}

func setupTestStore() *testEnv {
	remote := newFakeRemote()
	feed := newFakeFeed()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}

	s := New(remote, feed, remote, notifier, Options{
		TenantID:     testTenant,
		EchoWindow:   3 * time.Second,
		RefetchDelay: -1,
		Now:          clock.Now,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &testEnv{store: s, remote: remote, feed: feed, notifier: notifier, clock: clock}
}

func intPtr(v int) *int { return &v }

func countCell(entries []domain.ScheduleEntry, day int, slot, instructorID string) int {
	n := 0
	for _, e := range entries {
		if e.DayOfWeek == day && e.InstructorID == instructorID && timeslot.SameSlot(e.TimeSlot, slot) {
			n++
		}
	}
	return n
}
