package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/habitgrid/internal/config"
	"github.com/habitgrid/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// 演示数据生成器：创建 demo 账号和带随机打卡记录的习惯
func main() {
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")

	user := ensureDemoUser()
	createDemoHabits(user.ID)

	fmt.Println("演示数据生成完成，账号 demo / demo123")
}

func ensureDemoUser() db.User {
	var user db.User
	if err := db.DB.Where("username = ?", "demo").First(&user).Error; err == nil {
		fmt.Println("demo 用户已存在")
		return user
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte("demo123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("密码加密失败:", err)
	}

	user = db.User{Username: "demo", Password: string(hashed)}
	if err := db.DB.Create(&user).Error; err != nil {
		log.Fatal("创建用户失败:", err)
	}
	return user
}

func createDemoHabits(userID uint) {
	var count int64
	db.DB.Model(&db.Habit{}).Where("user_id = ?", userID).Count(&count)
	if count > 0 {
		fmt.Println("demo 用户已有习惯，跳过")
		return
	}

	seeds := []struct {
		name  string
		goal  int
		icon  string
		color string
	}{
		{"晨跑", 12, "🏃", "primary"},
		{"阅读 30 分钟", 20, "📚", "accent"},
		{"冥想", 15, "🧘", "success"},
		{"写日记", 10, "📓", "warning"},
		{"早睡", 18, "🌙", "primary"},
	}

	now := time.Now()
	year, month, _ := now.Date()
	daysInMonth := time.Date(year, month+1, 0, 0, 0, 0, 0, now.Location()).Day()

	for _, seed := range seeds {
		habit := db.Habit{UserID: userID, Name: seed.name, Goal: seed.goal, Icon: seed.icon, Color: seed.color}
		if err := db.DB.Create(&habit).Error; err != nil {
			log.Fatal("创建习惯失败:", err)
		}

		// 随机打卡到目标上下浮动
		marked := map[int]bool{}
		target := seed.goal - rand.Intn(5)
		for len(marked) < target {
			day := rand.Intn(daysInMonth) + 1
			if marked[day] {
				continue
			}
			marked[day] = true

			record := db.Completion{
				HabitID: habit.ID,
				UserID:  userID,
				Date:    fmt.Sprintf("%04d-%02d-%02d", year, int(month), day),
			}
			if err := db.DB.Create(&record).Error; err != nil {
				log.Fatal("创建打卡记录失败:", err)
			}
		}
		fmt.Printf("  已创建习惯 %s（%d 次打卡）\n", seed.name, len(marked))
	}
}
