package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/store"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
)

type slotResponse struct {
	Index     int    `json:"index"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type weekResponse struct {
	Week      domain.Week            `json:"week"`
	WeekStart string                 `json:"weekStart"`
	Entries   []domain.ScheduleEntry `json:"entries"`
}

func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	slots := make([]slotResponse, 0, timeslot.SlotCount)
	for i, start := range timeslot.CanonicalSlots() {
		slots = append(slots, slotResponse{Index: i, StartTime: start, EndTime: timeslot.SlotIndexToTime(i + 1)})
	}

	h.successResponse(w, r, "获取时段成功", slots)
}

func (h *Handler) SwitchWeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date" validate:"required,datetime=2006-01-02"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	s := storeFromContext(r)
	week := timeslot.WeekOf(date)
	if err := s.SwitchWeek(r.Context(), week); err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "切换周成功", weekResponse{
		Week:      week,
		WeekStart: timeslot.WeekStart(date).Format("2006-01-02"),
		Entries:   s.Entries(),
	})
}

func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	s := storeFromContext(r)

	week, ok := s.Week()
	if !ok {
		h.scheduleError(w, r, store.ErrNoActiveWeek)
		return
	}

	h.successResponse(w, r, "获取课表成功", weekResponse{
		Week:      week,
		WeekStart: timeslot.DateOf(week, 0).Format("2006-01-02"),
		Entries:   s.Entries(),
	})
}

func (h *Handler) RefreshEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := storeFromContext(r).List(r.Context())
	if err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "刷新课表成功", entries)
}

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	// 字段校验交给 store，缺失字段会得到 MissingFieldError
	var req store.CreateInput
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	entry, err := storeFromContext(r).Create(r.Context(), req)
	if err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "添加课程成功", entry)
}

func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DayOfWeek *int    `json:"dayOfWeek" validate:"omitnil,gte=0,lte=6"`
		TimeSlot  *string `json:"timeSlot"`
		StartTime *string `json:"startTime"`
		EndTime   *string `json:"endTime"`
		Duration  *int    `json:"duration" validate:"omitnil,gte=1,lte=13"`
		CourseID  *string `json:"courseID" validate:"omitnil,min=1"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	patch := domain.EntryPatch{
		DayOfWeek: req.DayOfWeek,
		Duration:  req.Duration,
		CourseID:  req.CourseID,
	}

	var err error
	if patch.TimeSlot, err = normalizeSlot(req.TimeSlot, false); err != nil {
		h.scheduleError(w, r, err)
		return
	}
	if patch.StartTime, err = normalizeSlot(req.StartTime, false); err != nil {
		h.scheduleError(w, r, err)
		return
	}
	if patch.EndTime, err = normalizeSlot(req.EndTime, true); err != nil {
		h.scheduleError(w, r, err)
		return
	}

	entry, err := storeFromContext(r).Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "更新课程成功", entry)
}

func (h *Handler) MoveEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DayOfWeek     *int `json:"dayOfWeek" validate:"required,gte=0,lte=6"`
		TimeSlotIndex *int `json:"timeSlotIndex" validate:"required,gte=0,lte=12"`
		Duration      int  `json:"duration" validate:"required,gte=1,lte=13"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	entry, err := storeFromContext(r).Move(r.Context(), chi.URLParam(r, "id"), *req.DayOfWeek, *req.TimeSlotIndex, req.Duration)
	if err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "移动课程成功", entry)
}

func (h *Handler) ResizeEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration int `json:"duration" validate:"required,gte=1,lte=13"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	entry, err := storeFromContext(r).Resize(r.Context(), chi.URLParam(r, "id"), req.Duration)
	if err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "调整课程时长成功", entry)
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := storeFromContext(r).Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.scheduleError(w, r, err)
		return
	}

	h.successResponse(w, r, "删除课程成功", nil)
}

// normalizeSlot 把时间统一为标准时段格式，结束时间允许取最后一个时段的结束时刻。
func normalizeSlot(v *string, isEnd bool) (*string, error) {
	if v == nil {
		return nil, nil
	}

	normalized := timeslot.NormalizeTime(*v)
	if _, ok := timeslot.SlotIndex(normalized); ok {
		return &normalized, nil
	}
	if isEnd && normalized == timeslot.SlotIndexToTime(timeslot.SlotCount) {
		return &normalized, nil
	}
	return nil, &domain.InvalidSlotError{Value: *v}
}

// scheduleError 把课表操作的错误转换成提示消息，无法识别的错误按服务器内部错误处理。
func (h *Handler) scheduleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNoActiveWeek):
		h.errorResponse(w, r, "请先选择要显示的周")
	case isDomainError(err):
		h.errorResponse(w, r, domain.UserMessage(err))
	default:
		h.internalServerError(w, r, err)
	}
}

func isDomainError(err error) bool {
	var (
		missing  *domain.MissingFieldError
		invalid  *domain.InvalidSlotError
		fetchErr *domain.FetchError
		create   *domain.CreateError
		update   *domain.UpdateError
		del      *domain.DeleteError
	)

	switch {
	case errors.As(err, &missing), errors.As(err, &invalid),
		errors.As(err, &fetchErr), errors.As(err, &create), errors.As(err, &update), errors.As(err, &del):
		return true
	case errors.Is(err, domain.ErrOutOfRange), errors.Is(err, domain.ErrEntryNotFound),
		errors.Is(err, domain.ErrPendingEntry), errors.Is(err, domain.ErrUniqueViolation),
		errors.Is(err, domain.ErrConflictUnresolved):
		return true
	default:
		return false
	}
}
