package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string
	Port          string
	DatabasePath  string
	StorageDriver string
	HabitFilePath string
	SessionSecret string
	GinMode       string
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string
	SeedUserName  string
	SeedPassword  string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "habitgrid.db"
	}

	// sqlite 为默认存储；file 走遗留的单文件演示模式
	storageDriver := strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_DRIVER")))
	if storageDriver != "file" {
		storageDriver = "sqlite"
	}

	habitFilePath := strings.TrimSpace(os.Getenv("HABIT_FILE_PATH"))
	if habitFilePath == "" {
		habitFilePath = "habits.json"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "habitgrid-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	aiBaseURL := strings.TrimSpace(os.Getenv("AI_BASE_URL"))
	if aiBaseURL == "" {
		aiBaseURL = "https://api.openai.com/v1"
	}

	aiModel := strings.TrimSpace(os.Getenv("AI_MODEL"))
	if aiModel == "" {
		aiModel = "gpt-4o-mini"
	}

	return AppConfig{
		ListenAddr:    listenAddr,
		Port:          port,
		DatabasePath:  databasePath,
		StorageDriver: storageDriver,
		HabitFilePath: habitFilePath,
		SessionSecret: sessionSecret,
		GinMode:       ginMode,
		AIAPIKey:      strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AIBaseURL:     aiBaseURL,
		AIModel:       aiModel,
		SeedUserName:  strings.TrimSpace(os.Getenv("SEED_USER_NAME")),
		SeedPassword:  strings.TrimSpace(os.Getenv("SEED_USER_PASSWORD")),
	}
}
