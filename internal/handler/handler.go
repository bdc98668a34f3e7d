package handler

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/config"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/store"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// StoreFactory 为某个租户创建一个新的课表视图。
type StoreFactory func(tenantID string) *store.Store

type Handler struct {
	validate   *validator.Validate
	config     *config.Config
	users      UserRepository
	translator ut.Translator
	newStore   StoreFactory

	// 每个登录用户各自持有一个课表视图，登出或闲置过久时关闭
	mu       sync.Mutex
	stores   map[int64]*store.Store
	lastUsed map[int64]time.Time
	now      func() time.Time

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, users UserRepository, newStore StoreFactory) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// 校验提示中使用 json 字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:   validate,
		config:     cfg,
		users:      users,
		translator: trans,
		newStore:   newStore,
		stores:     make(map[int64]*store.Store),
		lastUsed:   make(map[int64]time.Time),
		now:        time.Now,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Route("/schedule", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Use(h.scheduleStore)
			r.Get("/slots", h.GetSlots)
			r.Put("/week", h.SwitchWeek)
			r.Get("/entries", h.GetEntries)
			r.Post("/refresh", h.RefreshEntries)

			// 只有管理员可以修改课表
			r.Group(func(r chi.Router) {
				r.Use(h.RequiredRole([]domain.Role{domain.RoleAdmin}))
				r.Post("/entries", h.CreateEntry)
				r.Route("/entries/{id}", func(r chi.Router) {
					r.Patch("/", h.UpdateEntry)
					r.Post("/move", h.MoveEntry)
					r.Post("/resize", h.ResizeEntry)
					r.Delete("/", h.DeleteEntry)
				})
			})
		})
	})
}

// storeFor 返回用户的课表视图，不存在时创建。
func (h *Handler) storeFor(user *domain.User) *store.Store {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.stores[user.ID]
	if !ok {
		s = h.newStore(user.TenantID)
		h.stores[user.ID] = s
	}
	h.lastUsed[user.ID] = h.now()
	return s
}

func (h *Handler) closeStore(userID int64) {
	h.mu.Lock()
	s, ok := h.stores[userID]
	delete(h.stores, userID)
	delete(h.lastUsed, userID)
	h.mu.Unlock()

	if ok {
		s.Close()
	}
}

// evictIdle 关闭闲置超过 maxIdle 的课表视图，返回关闭的数量。
func (h *Handler) evictIdle(maxIdle time.Duration) int {
	h.mu.Lock()
	deadline := h.now().Add(-maxIdle)
	var idle []*store.Store
	for id, used := range h.lastUsed {
		if used.Before(deadline) {
			idle = append(idle, h.stores[id])
			delete(h.stores, id)
			delete(h.lastUsed, id)
		}
	}
	h.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// EvictIdleStores 定期回收闲置的课表视图，直到 ctx 结束。
func (h *Handler) EvictIdleStores(ctx context.Context, maxIdle time.Duration) {
	interval := maxIdle / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.evictIdle(maxIdle); n > 0 {
				slog.Info("已关闭闲置的课表视图", slog.Int("count", n))
			}
		}
	}
}

// Close 关闭所有课表视图，服务器退出时调用。
func (h *Handler) Close() {
	h.mu.Lock()
	stores := h.stores
	h.stores = make(map[int64]*store.Store)
	h.lastUsed = make(map[int64]time.Time)
	h.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
}
