package store

import (
	"fmt"
	"strings"
	"time"
)

const dateFormat = "2006-01-02"

// Month 表示当前查看的自然月，只关心年与月，忽略具体日。
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf 取给定时间（本地时区）所在的自然月。
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth 解析 YYYY-MM 形式的月份参数。
func ParseMonth(value string) (Month, error) {
	t, err := time.ParseInLocation("2006-01", strings.TrimSpace(value), time.Local)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q", value)
	}
	return MonthOf(t), nil
}

// Days 返回该月的天数（28~31）。
func (m Month) Days() int {
	// 下个月的第 0 天即本月最后一天
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.Local).Day()
}

// Prev 返回上一个月，一月向前翻到上一年十二月。
func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Next 返回下一个月，十二月向后翻到下一年一月。
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// DateString 用本地年月与给定日拼出零填充的 YYYY-MM-DD 字符串。
// 刻意不经过 UTC 转换，避免月初月末被时区偏移挪动一天。
func (m Month) DateString(day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", m.Year, int(m.Month), day)
}

// Bounds 返回该月第一天与最后一天的日期字符串（闭区间）。
func (m Month) Bounds() (string, string) {
	return m.DateString(1), m.DateString(m.Days())
}

// String 输出 YYYY-MM。
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}
