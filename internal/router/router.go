package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("habitgrid_session", store))
	r.Use(api.VisitorCookie())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	apiGroup := r.Group("/api")
	{
		auth := apiGroup.Group("/auth")
		{
			auth.POST("/register", api.Register)
			auth.POST("/login", api.Login)
			auth.POST("/logout", api.Logout)
			auth.GET("/me", api.Me)
		}

		// 需要认证的接口
		private := apiGroup.Group("")
		private.Use(handler.AuthRequired())
		{
			private.GET("/board", api.GetBoard)
			private.POST("/habits", api.CreateHabit)
			private.PUT("/habits/:id", api.UpdateHabit)
			private.DELETE("/habits/:id", api.DeleteHabit)
			private.POST("/habits/:id/days/:day/toggle", api.ToggleDay)

			private.GET("/quiz", api.GetQuiz)
			private.POST("/quiz/answers", api.SubmitQuizAnswer)
			private.POST("/quiz/suggestions/:index/accept", api.AcceptSuggestion)
			private.POST("/quiz/retake", api.RetakeQuiz)
		}
	}

	return r
}
