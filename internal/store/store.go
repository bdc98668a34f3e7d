// Package store 维护当前显示周的课表本地视图：乐观写入、冲突处理与变更订阅的合并。
package store

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

var (
	ErrNoActiveWeek = errors.New("no week selected")
	ErrWeekChanged  = errors.New("displayed week changed while the request was in flight")
)

// Remote 是 weekly_schedules 表的远端访问接口，写操作返回带联表数据的整行。
type Remote interface {
	ListWeek(ctx context.Context, tenantID string, week domain.Week) ([]*domain.ScheduleEntry, error)
	FindInstructorDay(ctx context.Context, tenantID string, week domain.Week, day int, instructorID string) ([]*domain.ScheduleEntry, error)
	InsertEntry(ctx context.Context, entry *domain.ScheduleEntry) (*domain.ScheduleEntry, error)
	UpdateEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.ScheduleEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	EntryExists(ctx context.Context, id string) (bool, error)
}

// Feed 推送整张表的变更，不按周过滤。返回的 channel 在 ctx 结束后关闭。
type Feed interface {
	Subscribe(ctx context.Context, channel string) (<-chan domain.ChangeEvent, error)
}

type Directory interface {
	Course(ctx context.Context, id string) (*domain.Course, error)
	Instructor(ctx context.Context, id string) (*domain.InstructorProfile, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

type Options struct {
	TenantID     string
	EchoWindow   time.Duration
	RefetchDelay time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// session 对应一次周切换，ctx 是该周所有在途请求和订阅的取消令牌。
type session struct {
	week   domain.Week
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

type Store struct {
	remote    Remote
	feed      Feed
	directory Directory
	notifier  Notifier
	validate  *validator.Validate
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	entries []*domain.ScheduleEntry
	sess    *session
	gen     uint64
	writes  *writeLog
}

func New(remote Remote, feed Feed, directory Directory, notifier Notifier, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Store{
		remote:    remote,
		feed:      feed,
		directory: directory,
		notifier:  notifier,
		validate:  validate,
		opts:      opts,
		logger:    opts.Logger.With("tenant", opts.TenantID),
		writes:    newWriteLog(opts.EchoWindow, opts.Now),
	}
}

// SwitchWeek 取消上一周的订阅和在途请求，订阅新一周的变更并加载数据。
func (s *Store) SwitchWeek(ctx context.Context, week domain.Week) error {
	s.mu.Lock()
	if s.sess != nil {
		s.sess.cancel()
	}
	s.gen++
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{week: week, gen: s.gen, ctx: sessCtx, cancel: cancel}
	s.sess = sess
	s.entries = nil
	s.writes.forgetDeletes()
	s.mu.Unlock()

	if s.feed != nil {
		channel := ChannelName(s.opts.TenantID, week)
		events, err := s.feed.Subscribe(sessCtx, channel)
		if err != nil {
			// 没有实时订阅也能工作，只是需要手动刷新
			s.logger.Warn("无法订阅课表变更", "channel", channel, "error", err)
		} else {
			go s.consume(sess, events)
		}
	}

	_, err := s.refresh(ctx, sess)
	return err
}

// Week 返回当前显示的周。
func (s *Store) Week() (domain.Week, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		return domain.Week{}, false
	}
	return s.sess.week, true
}

// List 重新拉取当前周的全部条目并整体替换本地缓存。
func (s *Store) List(ctx context.Context) ([]domain.ScheduleEntry, error) {
	sess, err := s.current()
	if err != nil {
		return nil, &domain.FetchError{Err: err}
	}
	return s.refresh(ctx, sess)
}

// Entries 返回本地视图的拷贝，按插入顺序排列。
func (s *Store) Entries() []domain.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil {
		s.sess.cancel()
		s.sess = nil
	}
	s.entries = nil
	s.writes.forgetDeletes()
}

func (s *Store) refresh(ctx context.Context, sess *session) ([]domain.ScheduleEntry, error) {
	opCtx, done := bind(ctx, sess)
	defer done()

	rows, err := s.remote.ListWeek(opCtx, s.opts.TenantID, sess.week)
	if err != nil {
		if sess.ctx.Err() != nil {
			return nil, &domain.FetchError{Err: ErrWeekChanged}
		}
		return nil, &domain.FetchError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrentLocked(sess) {
		return nil, &domain.FetchError{Err: ErrWeekChanged}
	}

	entries := make([]*domain.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.Clone())
	}
	// 还没被远端确认的乐观条目保留下来，等待各自的请求返回
	for _, e := range s.entries {
		if domain.IsTemporaryID(e.ID) {
			entries = append(entries, e)
		}
	}
	s.entries = entries

	return s.snapshotLocked(), nil
}

func (s *Store) current() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		return nil, ErrNoActiveWeek
	}
	return s.sess, nil
}

func (s *Store) isCurrentLocked(sess *session) bool {
	return s.sess != nil && s.sess.gen == sess.gen
}

func (s *Store) snapshotLocked() []domain.ScheduleEntry {
	out := make([]domain.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.Clone())
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) lookupLocked(id string) *domain.ScheduleEntry {
	if i := s.indexLocked(id); i >= 0 {
		return s.entries[i]
	}
	return nil
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	return true
}

// upsertLocked 按 id 替换，不存在时追加到末尾。
func (s *Store) upsertLocked(entry *domain.ScheduleEntry) {
	if i := s.indexLocked(entry.ID); i >= 0 {
		s.entries[i] = entry.Clone()
		return
	}
	s.entries = append(s.entries, entry.Clone())
}

func (s *Store) rollback(sess *session, tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isCurrentLocked(sess) {
		s.removeLocked(tempID)
	}
}

// bind 让请求同时受调用方 ctx 和当前周会话的约束，切换周时在途请求会被取消。
func bind(ctx context.Context, sess *session) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sess.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
