// Package utils 配置缺省值小工具，不依赖 internal
package utils

import "time"

// CoalesceString 返回第一个非空字符串
func CoalesceString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// PositiveInt v <= 0 时返回 def
func PositiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// PositiveDuration d <= 0 时返回 def
func PositiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
