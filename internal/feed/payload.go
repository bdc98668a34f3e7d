package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

// payload 对应触发器 notify_weekly_schedules_change 发出的 JSON。
type payload struct {
	EventType domain.ChangeEventType `json:"eventType"`
	New       *payloadRow            `json:"new"`
	Old       *payloadRow            `json:"old"`
}

// payloadRow 是 row_to_json 的输出，字段名与列名一致。
type payloadRow struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	Year         int    `json:"year"`
	WeekNumber   int    `json:"week_number"`
	DayOfWeek    int    `json:"day_of_week"`
	TimeSlot     string `json:"time_slot"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Duration     int    `json:"duration"`
	CourseID     string `json:"course_id"`
	InstructorID string `json:"instructor_id"`
	Version      int32  `json:"version"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (r *payloadRow) entry() *domain.ScheduleEntry {
	if r == nil {
		return nil
	}

	return &domain.ScheduleEntry{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Year:         r.Year,
		WeekNumber:   r.WeekNumber,
		DayOfWeek:    r.DayOfWeek,
		TimeSlot:     r.TimeSlot,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Duration:     r.Duration,
		CourseID:     r.CourseID,
		InstructorID: r.InstructorID,
		Version:      r.Version,
		CreatedAt:    parseTimestamp(r.CreatedAt),
		UpdatedAt:    parseTimestamp(r.UpdatedAt),
	}
}

// DecodePayload 解析一条 NOTIFY 消息。
func DecodePayload(data []byte) (domain.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}

	ev := domain.ChangeEvent{Type: p.EventType, New: p.New.entry(), Old: p.Old.entry()}
	switch ev.Type {
	case domain.ChangeInsert, domain.ChangeUpdate:
		if ev.New == nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode change payload: %s without new row", ev.Type)
		}
	case domain.ChangeDelete:
		if ev.Old == nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode change payload: DELETE without old row")
		}
	default:
		return domain.ChangeEvent{}, fmt.Errorf("decode change payload: unknown event type %q", p.EventType)
	}

	return ev, nil
}

// parseTimestamp 解析 Postgres 的 timestamptz JSON 输出，无法解析时返回零值。
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
