package utils

import (
	"fmt"
	"math/rand"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
	"golang.org/x/crypto/bcrypt"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "霞", "飞", "玲", "超",
	"华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌", "庆",
	"建", "丹", "彬", "凤", "旭", "宁", "乐", "成", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

var digits = "0123456789"

// GenerateUsernameFromChineseName 取每个字拼音的随机前缀，再加上 1~3 位数字。
func GenerateUsernameFromChineseName(chineseName string) string {
	pinyinArray := pinyin.LazyConvert(chineseName, nil)
	username := ""

	for _, py := range pinyinArray {
		length := rand.Intn(len(py)) + 1
		username += py[:length]
	}

	digitsLength := rand.Intn(3) + 1
	for i := 0; i < digitsLength; i++ {
		username += string(digits[rand.Intn(len(digits))])
	}

	return username
}

// GenerateRandomInstructor 同时返回讲师资料和对应的登录账户。
func GenerateRandomInstructor(tenantID, password, emailDomainName string) (*domain.InstructorProfile, *domain.User, error) {
	fullName := GenerateRandomChineseName()
	username := GenerateUsernameFromChineseName(fullName)
	email := username + "@" + emailDomainName

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	profile := &domain.InstructorProfile{
		TenantID: tenantID,
		Username: username,
		FullName: fullName,
		Email:    email,
	}
	user := &domain.User{
		TenantID:     tenantID,
		Username:     username,
		PasswordHash: string(passwordHash),
		FullName:     fullName,
		Email:        email,
		Role:         domain.RoleInstructor,
	}

	return profile, user, nil
}

var courseSubjects = []string{
	"高等数学", "线性代数", "概率论", "大学物理", "大学英语", "程序设计",
	"数据结构", "操作系统", "计算机网络", "数据库系统", "离散数学", "编译原理",
}
var courseLevels = []string{"", "（上）", "（下）", "实验", "习题课"}
var courseColors = []string{"#409EFF", "#67C23A", "#E6A23C", "#F56C6C", "#909399", "#9B59B6"}

func GenerateRandomCourse(tenantID string) *domain.Course {
	name := courseSubjects[rand.Intn(len(courseSubjects))] + courseLevels[rand.Intn(len(courseLevels))]

	return &domain.Course{
		TenantID:      tenantID,
		Name:          fmt.Sprintf("%s-%d", name, rand.Intn(1000)),
		DurationHours: rand.Intn(3) + 1,
		Color:         courseColors[rand.Intn(len(courseColors))],
	}
}

// GenerateRandomWeekGrid 随机生成至多 n 个条目，同一讲师的同一格子不会重复。
func GenerateRandomWeekGrid(tenantID string, week domain.Week, courses []*domain.Course, instructors []*domain.InstructorProfile, n int) []*domain.ScheduleEntry {
	if len(courses) == 0 || len(instructors) == 0 {
		return nil
	}

	type cell struct {
		day, slot    int
		instructorID string
	}
	used := make(map[cell]bool)

	entries := make([]*domain.ScheduleEntry, 0, n)
	for attempts := 0; len(entries) < n && attempts < n*10; attempts++ {
		course := courses[rand.Intn(len(courses))]
		instructor := instructors[rand.Intn(len(instructors))]
		day := rand.Intn(timeslot.DaysPerWeek)
		slot := rand.Intn(timeslot.SlotCount)

		duration := course.DurationHours
		if slot+duration > timeslot.SlotCount {
			duration = timeslot.SlotCount - slot
		}

		c := cell{day: day, slot: slot, instructorID: instructor.ID}
		if used[c] {
			continue
		}
		used[c] = true

		endTime, err := timeslot.EndTime(slot, duration)
		if err != nil {
			continue
		}
		start := timeslot.SlotIndexToTime(slot)

		entries = append(entries, &domain.ScheduleEntry{
			TenantID:     tenantID,
			Year:         week.Year,
			WeekNumber:   week.Number,
			DayOfWeek:    day,
			TimeSlot:     start,
			StartTime:    start,
			EndTime:      endTime,
			Duration:     duration,
			CourseID:     course.ID,
			InstructorID: instructor.ID,
		})
	}

	return entries
}
