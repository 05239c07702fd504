package model

import (
	"strconv"
	"time"
)

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// NowMilli 当前毫秒时间戳
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
