package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/store"
)

type habitPayload struct {
	Name string `json:"name"`
	Goal int    `json:"goal"`
	Icon string `json:"icon"`
}

// GetBoard 返回当前月份的习惯面板：习惯集合、每个习惯的达成率
// 和整体统计。携带 month 参数（YYYY-MM）时切换到该月。
func (a *API) GetBoard(c *gin.Context) {
	userID := currentUserID(c)
	s := a.storeFor(userID)

	if raw := c.Query("month"); raw != "" {
		month, err := store.ParseMonth(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的月份")
			return
		}
		if err := s.SetMonth(c.Request.Context(), userID, month); err != nil {
			respondError(c, http.StatusBadGateway, "加载习惯数据失败")
			return
		}
	} else if err := s.Load(c.Request.Context(), userID); err != nil {
		respondError(c, http.StatusBadGateway, "加载习惯数据失败")
		return
	}

	c.JSON(http.StatusOK, boardPayload(s))
}

// CreateHabit 新建习惯。与打卡不同，创建是先落地后展示：
// 远端失败时不会出现一条幽灵习惯。
func (a *API) CreateHabit(c *gin.Context) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	userID := currentUserID(c)
	habit, err := a.storeFor(userID).AddHabit(c.Request.Context(), userID, payload.Name, payload.Goal, payload.Icon)
	if err != nil {
		if errors.Is(err, store.ErrHabitNameRequired) {
			respondError(c, http.StatusBadRequest, "习惯名称不能为空")
			return
		}
		respondError(c, http.StatusBadGateway, "保存习惯失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新名称/目标/图标。乐观更新，远端失败时
// 状态已回滚到权威数据，客户端重新拉取面板即可。
func (a *API) UpdateHabit(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	userID := currentUserID(c)
	s := a.storeFor(userID)
	if err := s.EditHabit(c.Request.Context(), userID, habitID, payload.Name, payload.Goal, payload.Icon); err != nil {
		handleHabitError(c, s, err)
		return
	}

	c.JSON(http.StatusOK, boardPayload(s))
}

// DeleteHabit 删除习惯及其全部打卡记录。
func (a *API) DeleteHabit(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	userID := currentUserID(c)
	s := a.storeFor(userID)
	name, err := s.RemoveHabit(c.Request.Context(), userID, habitID)
	if err != nil {
		handleHabitError(c, s, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true, "name": name})
}

// ToggleDay 翻转某习惯某一天的打卡状态。乐观翻转，
// 远端失败时整体回到权威状态并返回回滚后的面板。
func (a *API) ToggleDay(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期")
		return
	}

	userID := currentUserID(c)
	s := a.storeFor(userID)
	if day < 1 || day > s.Month().Days() {
		respondError(c, http.StatusBadRequest, "无效的日期")
		return
	}

	if err := s.ToggleDay(c.Request.Context(), userID, habitID, day); err != nil {
		handleHabitError(c, s, err)
		return
	}

	c.JSON(http.StatusOK, boardPayload(s))
}

func boardPayload(s *store.HabitStore) gin.H {
	habits := s.Snapshot()
	month := s.Month()

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	return gin.H{
		"month":   month.String(),
		"days":    month.Days(),
		"loading": s.Loading(),
		"habits":  items,
		"stats": gin.H{
			"totalCompleted": store.TotalCompleted(habits),
			"totalGoals":     store.TotalGoals(habits),
			"successRate":    store.SuccessRate(habits),
		},
	}
}

func habitToPayload(habit store.Habit) gin.H {
	return gin.H{
		"id":            habit.ID,
		"name":          habit.Name,
		"goal":          habit.Goal,
		"icon":          habit.Icon,
		"color":         habit.Color,
		"completedDays": habit.CompletedDays,
		"successRate":   store.SuccessRate([]store.Habit{habit}),
	}
}

// handleHabitError 统一处理乐观更新失败。远端失败时仓库已经
// 重新加载过，把回滚后的面板一并返回，客户端直接重绘。
func handleHabitError(c *gin.Context, s *store.HabitStore, err error) {
	switch {
	case errors.Is(err, store.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, store.ErrHabitNameRequired):
		respondError(c, http.StatusBadRequest, "习惯名称不能为空")
	default:
		payload := boardPayload(s)
		payload["error"] = "同步失败，已恢复为服务器数据"
		c.JSON(http.StatusBadGateway, payload)
	}
}
