package domain

import (
	"fmt"
	"strings"
	"time"
)

// TemporaryIDPrefix 标记尚未被远端确认的条目，这类 id 不会被持久化。
const TemporaryIDPrefix = "temp-"

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// Week 是 (ISO 年, ISO 周) 组成的周分桶。
type Week struct {
	Year   int `json:"year"`
	Number int `json:"weekNumber"`
}

func (w Week) String() string {
	return fmt.Sprintf("%d-W%02d", w.Year, w.Number)
}

type Course struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantID"`
	Name          string `json:"name"`
	DurationHours int    `json:"durationHours"`
	Color         string `json:"color"`
}

type InstructorProfile struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantID"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type ScheduleEntry struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantID"`
	Year         int       `json:"year"`
	WeekNumber   int       `json:"weekNumber"`
	DayOfWeek    int       `json:"dayOfWeek"`
	TimeSlot     string    `json:"timeSlot"`
	StartTime    string    `json:"startTime"`
	EndTime      string    `json:"endTime"`
	Duration     int       `json:"duration"`
	CourseID     string    `json:"courseID"`
	InstructorID string    `json:"instructorID"`
	Version      int32     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// 以下为联表得到的展示数据，只读，不会被写回
	Course            *Course            `json:"course,omitempty"`
	InstructorProfile *InstructorProfile `json:"instructorProfile,omitempty"`
}

func (e *ScheduleEntry) Week() Week {
	return Week{Year: e.Year, Number: e.WeekNumber}
}

// Clone 深拷贝条目，包括联表数据。
func (e *ScheduleEntry) Clone() *ScheduleEntry {
	c := *e
	if e.Course != nil {
		course := *e.Course
		c.Course = &course
	}
	if e.InstructorProfile != nil {
		profile := *e.InstructorProfile
		c.InstructorProfile = &profile
	}
	return &c
}

// EntryPatch 中为 nil 的字段保持不变。
type EntryPatch struct {
	DayOfWeek *int    `json:"dayOfWeek"`
	TimeSlot  *string `json:"timeSlot"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	Duration  *int    `json:"duration"`
	CourseID  *string `json:"courseID"`
}

type ChangeEventType string

const (
	ChangeInsert ChangeEventType = "INSERT"
	ChangeUpdate ChangeEventType = "UPDATE"
	ChangeDelete ChangeEventType = "DELETE"
)

// ChangeEvent 是 weekly_schedules 表上的一次写入，New/Old 不包含联表数据。
type ChangeEvent struct {
	Type ChangeEventType `json:"eventType"`
	New  *ScheduleEntry  `json:"new"`
	Old  *ScheduleEntry  `json:"old"`
}

// Row 返回事件所描述的那一行：删除时为 Old，其余为 New。
func (ev ChangeEvent) Row() *ScheduleEntry {
	if ev.Type == ChangeDelete {
		return ev.Old
	}
	return ev.New
}
