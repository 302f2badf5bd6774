package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// GenerationFields 描述代际生命周期事件（install/activate/resume）的公共字段。
func GenerationFields(action, generation, storeName string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"generation": generation,
		"store":      storeName,
	}
}

// RequestFields 提供请求方法/URL/命中来源字段，供拦截器日志复用。
func RequestFields(method, url, storeName, source string) logrus.Fields {
	return logrus.Fields{
		"action": "intercept",
		"method": method,
		"url":    url,
		"store":  storeName,
		"source": source,
	}
}
