package domain

type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification 对应前端的 toast 提示，投递失败不影响课表操作。
type Notification struct {
	Level     NotificationLevel `json:"level"`
	TenantID  string            `json:"tenantID"`
	Message   string            `json:"message"`
	EntryID   string            `json:"entryID,omitempty"`
	Recipient string            `json:"recipient,omitempty"` // 非空时由 notify worker 发送邮件
	Data      *ScheduleMailData `json:"data,omitempty"`
}

type ScheduleMailData struct {
	FullName   string `json:"fullName"`
	CourseName string `json:"courseName"`
	Week       string `json:"week"`
	DayOfWeek  int    `json:"dayOfWeek"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	Action     string `json:"action"`
}

var weekdayNames = [...]string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// Weekday 返回 DayOfWeek 对应的中文星期，0 为周一。
func (d ScheduleMailData) Weekday() string {
	if d.DayOfWeek < 0 || d.DayOfWeek >= len(weekdayNames) {
		return ""
	}
	return weekdayNames[d.DayOfWeek]
}
