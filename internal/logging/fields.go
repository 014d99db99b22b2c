package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ImageFields 提供图片源/本地路径/解析状态字段，供缓存与 HTTP 日志复用。
func ImageFields(source, localPath, status string) logrus.Fields {
	return logrus.Fields{
		"source":     source,
		"local_path": localPath,
		"status":     status,
	}
}

// RequestFields 汇总单次 /images 请求的结果字段。
func RequestFields(source string, httpStatus int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":      "image_request",
		"source":      source,
		"http_status": httpStatus,
		"cache_hit":   cacheHit,
	}
}
