package web

import (
	"strings"

	"github.com/gin-gonic/gin"

	qsi18n "quantsim/i18n"
)

// I18nMiddleware 解析请求的 Accept-Language 头并设置到上下文
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("language", parseAcceptLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// parseAcceptLanguage 解析 Accept-Language 头
// 示例: "en-US,en;q=0.9" -> "en-US"
func parseAcceptLanguage(acceptLang string) string {
	first, _, _ := strings.Cut(acceptLang, ",")
	first, _, _ = strings.Cut(first, ";")
	return normalizeLanguage(strings.TrimSpace(first))
}

// normalizeLanguage 映射到支持的语言，默认中文
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(lang)
	switch {
	case strings.HasPrefix(lang, "en"):
		return "en-US"
	default:
		return "zh-CN"
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, ok := c.Get("language"); ok {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return "zh-CN"
}

// T 翻译消息（从上下文获取语言）
func T(c *gin.Context, key string, data ...interface{}) string {
	return qsi18n.TWithLang(GetLanguage(c), key, data...)
}
