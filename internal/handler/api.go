package handler

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/habitgrid/internal/quiz"
	"github.com/habitgrid/internal/service"
	"github.com/habitgrid/internal/store"
)

const (
	visitorCookieName   = "hg_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60
)

// API bundles shared dependencies for HTTP handlers.
// 每个已登录用户持有独立的月视图状态和问卷进度，按需懒创建。
type API struct {
	remote    store.Remote
	suggester service.HabitSuggester

	mu     sync.Mutex
	stores map[uint]*store.HabitStore
	flows  map[uint]*quiz.Flow
}

// NewAPI constructs a handler set with shared services.
func NewAPI(remote store.Remote, suggester service.HabitSuggester) *API {
	return &API{
		remote:    remote,
		suggester: suggester,
		stores:    make(map[uint]*store.HabitStore),
		flows:     make(map[uint]*quiz.Flow),
	}
}

// storeFor 返回该用户的习惯状态仓库，首次访问时创建。
func (a *API) storeFor(userID uint) *store.HabitStore {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.stores[userID]; ok {
		return s
	}
	s := store.NewHabitStore(a.remote)
	a.stores[userID] = s
	return s
}

// flowFor 返回该用户的问卷流程，首次访问时从第一题开始。
func (a *API) flowFor(userID uint) *quiz.Flow {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f, ok := a.flows[userID]; ok {
		return f
	}
	f := quiz.NewFlow(a.suggester, a.storeForLocked(userID))
	a.flows[userID] = f
	return f
}

func (a *API) storeForLocked(userID uint) *store.HabitStore {
	if s, ok := a.stores[userID]; ok {
		return s
	}
	s := store.NewHabitStore(a.remote)
	a.stores[userID] = s
	return s
}

// dropUserState 在登出时丢弃该用户的会话内状态。
func (a *API) dropUserState(userID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stores, userID)
	delete(a.flows, userID)
}

func (a *API) ensureVisitorID(c *gin.Context) string {
	if id, err := c.Cookie(visitorCookieName); err == nil && strings.TrimSpace(id) != "" {
		return id
	}

	visitorID := uuid.NewString()
	secure := c.Request.TLS != nil

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     visitorCookieName,
		Value:    visitorID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		MaxAge:   visitorCookieMaxAge,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		SameSite: http.SameSiteLaxMode,
	})

	return visitorID
}

// VisitorCookie 保证每个来访者都带有稳定的匿名标识。
func (a *API) VisitorCookie() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.ensureVisitorID(c)
		c.Next()
	}
}
