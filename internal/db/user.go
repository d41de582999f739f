package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 是一个独立的打卡账号，习惯与打卡记录都挂在它之下
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Password string `gorm:"not null"`
}

// HashPassword 生成 bcrypt 哈希，注册与种子账号共用。
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// EnsureUser 保证种子账号存在：用户名或密码为空时什么都不做；
// 同名账号已存在时保持原密码不变，不会覆盖。
func EnsureUser(username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var existing User
	err := DB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	return DB.Create(&User{Username: username, Password: hashed}).Error
}
