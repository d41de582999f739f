package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/config"
	"github.com/habitgrid/internal/db"
	"github.com/habitgrid/internal/handler"
	"github.com/habitgrid/internal/router"
	"github.com/habitgrid/internal/service"
	"github.com/habitgrid/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// .env 不存在时忽略，环境变量优先
	_ = godotenv.Load()

	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 账号始终存数据库；file 模式只替换习惯存储
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	if cfg.SeedUserName != "" && cfg.SeedPassword != "" {
		if err := db.EnsureUser(cfg.SeedUserName, cfg.SeedPassword); err != nil {
			log.Fatalf("failed to ensure seed user: %v", err)
		}
	}

	var remote store.Remote
	if cfg.StorageDriver == "file" {
		remote = store.NewFileStore(cfg.HabitFilePath)
		log.Printf("using file storage at %s", cfg.HabitFilePath)
	} else {
		remote = service.NewHabitService(db.DB)
	}

	suggester := service.NewAISuggestService(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
	api := handler.NewAPI(remote, suggester)

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
