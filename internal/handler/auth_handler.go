package handler

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const userIDContextKey = "__user_id"

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 注册新用户并直接建立会话。
func (a *API) Register(c *gin.Context) {
	var payload credentialsPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" || utf8.RuneCountInString(username) > 50 {
		respondError(c, http.StatusBadRequest, "用户名不合法")
		return
	}
	if len(payload.Password) < 6 {
		respondError(c, http.StatusBadRequest, "密码至少 6 位")
		return
	}

	var existing db.User
	err := db.DB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		respondError(c, http.StatusConflict, "用户名已被占用")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	hashed, err := db.HashPassword(payload.Password)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	user := db.User{Username: username, Password: hashed}
	if err := db.DB.Create(&user).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	if !establishSession(c, user) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": user.ID, "username": user.Username}})
}

// Login 校验用户名密码并建立会话。
func (a *API) Login(c *gin.Context) {
	var payload credentialsPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	var user db.User
	if err := db.DB.Where("username = ?", strings.TrimSpace(payload.Username)).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if !establishSession(c, user) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": user.ID, "username": user.Username}})
}

// Logout 清除会话并丢弃该用户的服务端状态。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if userID := sessionUserID(session); userID != 0 {
		a.dropUserState(userID)
	}
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"loggedOut": true})
}

// Me 返回当前登录用户。
func (a *API) Me(c *gin.Context) {
	session := sessions.Default(c)
	userID := sessionUserID(session)
	if userID == 0 {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var user db.User
	if err := db.DB.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": user.ID, "username": user.Username}})
}

// AuthRequired 是 JSON 接口的认证中间件，会话中无用户时返回 401。
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := sessionUserID(session)
		if userID == 0 {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

func establishSession(c *gin.Context, user db.User) bool {
	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return false
	}
	return true
}

func sessionUserID(session sessions.Session) uint {
	raw := session.Get("user_id")
	if raw == nil {
		return 0
	}
	if id, ok := raw.(uint); ok {
		return id
	}
	return 0
}

// currentUserID 读取 AuthRequired 写入的用户标识。
func currentUserID(c *gin.Context) uint {
	if raw, exists := c.Get(userIDContextKey); exists {
		if id, ok := raw.(uint); ok {
			return id
		}
	}
	return 0
}
