package worker

import (
	"time"
)

// Options 是服务配置中传给 worker 构造函数的选项。
type Options map[string]any

// String 获取字符串类型的选项值。
func (o Options) String(key, defaultVal string) string {
	if val, ok := o[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// Int 获取整数类型的选项值。
func (o Options) Int(key string, defaultVal int) int {
	if val, ok := o[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

// Bool 获取布尔类型的选项值。
func (o Options) Bool(key string, defaultVal bool) bool {
	if val, ok := o[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// Duration 获取时间间隔类型的选项值，整数按毫秒解释。
func (o Options) Duration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := o[key]; ok {
		switch v := val.(type) {
		case time.Duration:
			return v
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		case int:
			return time.Duration(v) * time.Millisecond
		case int64:
			return time.Duration(v) * time.Millisecond
		case float64:
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultVal
}
