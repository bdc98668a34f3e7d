package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/config"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/repository"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/timeslot"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var tenantID string
	var date string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机讲师及账户, 2: 插入随机课程, 3: 插入随机周课表)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.StringVar(&tenantID, "tenant", "", "租户 ID，默认使用初始管理员的租户")
	flag.StringVar(&date, "date", "", "随机周课表所在周内的任意一天 (2006-01-02)，默认本周")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if tenantID == "" {
		tenantID = cfg.InitialAdmin.TenantID
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	if err := repository.RunMigrations(dbpool); err != nil {
		logger.Error("无法执行数据库迁移", "error", err)
		return
	}

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)
	bg := context.Background()

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的讲师数量")
			return
		}

		cnt := 0
		for i := 0; i < n; i++ {
			profile, user, err := utils.GenerateRandomInstructor(tenantID, cfg.Seed.User.Password, cfg.Seed.EmailDomain)
			if err != nil {
				slog.Error("无法生成随机讲师", slog.String("error", err.Error()))
				continue
			}

			if err := repo.CreateUser(bg, user); err != nil {
				// 拼音用户名可能重复，跳过即可
				slog.Error("无法插入用户", slog.String("username", user.Username), slog.String("error", err.Error()))
				continue
			}
			if err := repo.CreateInstructor(bg, profile); err != nil {
				slog.Error("无法插入讲师", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("插入讲师成功", slog.Int("count", cnt))
	case 2:
		if n <= 0 {
			slog.Error("请输入合法的课程数量")
			return
		}

		cnt := 0
		for i := 0; i < n; i++ {
			if err := repo.CreateCourse(bg, utils.GenerateRandomCourse(tenantID)); err != nil {
				slog.Error("无法插入课程", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("插入课程成功", slog.Int("count", cnt))
	case 3:
		if n <= 0 {
			slog.Error("请输入合法的课表条目数量")
			return
		}

		day := time.Now()
		if date != "" {
			day, err = time.ParseInLocation("2006-01-02", date, time.Local)
			if err != nil {
				slog.Error("日期格式错误", slog.String("date", date))
				return
			}
		}
		week := timeslot.WeekOf(day)

		// 先获取所有课程和讲师
		courses, err := repo.ListCourses(bg, tenantID)
		if err != nil {
			slog.Error("无法获取课程列表", slog.String("error", err.Error()))
			return
		}
		instructors, err := repo.ListInstructors(bg, tenantID)
		if err != nil {
			slog.Error("无法获取讲师列表", slog.String("error", err.Error()))
			return
		}
		if len(courses) == 0 || len(instructors) == 0 {
			slog.Error("请先插入课程和讲师")
			return
		}

		cnt := 0
		for _, entry := range utils.GenerateRandomWeekGrid(tenantID, week, courses, instructors, n) {
			if _, err := repo.InsertEntry(bg, entry); err != nil {
				slog.Error("无法插入课表条目", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("插入课表条目成功", slog.String("week", week.String()), slog.Int("count", cnt))
	default:
		slog.Error("指定的操作非法")
	}
}
