package i18n

import (
	"embed"
	"fmt"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"quantsim/logger"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// SupportedLanguages 内置的语言
var SupportedLanguages = []string{"zh-CN", "en-US"}

var (
	bundle         *i18n.Bundle
	defaultLang    = "zh-CN"
	mu             sync.RWMutex
	systemLanguage = defaultLang
)

// Init 初始化 i18n 系统
func Init(lang string) error {
	mu.Lock()
	defer mu.Unlock()
	return initLocked(lang)
}

func initLocked(lang string) error {
	if lang == "" {
		lang = defaultLang
	}
	if _, err := language.Parse(lang); err != nil {
		return fmt.Errorf("无效的语言 %q: %w", lang, err)
	}
	systemLanguage = lang

	b := i18n.NewBundle(language.MustParse(defaultLang))
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)
	for _, l := range SupportedLanguages {
		filename := fmt.Sprintf("locales/%s.yaml", l)
		if _, err := b.LoadMessageFileFS(localeFS, filename); err != nil {
			// 至少保证默认语言可用
			logger.Warn("⚠️ 加载翻译文件 %s 失败: %v", filename, err)
		}
	}
	bundle = b
	return nil
}

// GetLocalizer 获取指定语言的 Localizer，未初始化时按默认语言初始化
func GetLocalizer(lang string) *i18n.Localizer {
	mu.RLock()
	b := bundle
	if lang == "" {
		lang = systemLanguage
	}
	mu.RUnlock()

	if b == nil {
		mu.Lock()
		if bundle == nil {
			initLocked(systemLanguage)
		}
		b = bundle
		mu.Unlock()
	}
	return i18n.NewLocalizer(b, lang)
}

// T 翻译消息（使用系统默认语言）
func T(key string, data ...interface{}) string {
	return TWithLang(GetSystemLanguage(), key, data...)
}

// TWithLang 翻译消息（指定语言），找不到时返回 key
func TWithLang(lang string, key string, data ...interface{}) string {
	localizer := GetLocalizer(lang)

	var templateData map[string]interface{}
	if len(data) > 0 {
		if m, ok := data[0].(map[string]interface{}); ok {
			templateData = m
		}
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		return key
	}
	return msg
}

// SetSystemLanguage 设置系统默认语言
func SetSystemLanguage(lang string) {
	mu.Lock()
	defer mu.Unlock()
	systemLanguage = lang
}

// GetSystemLanguage 获取系统默认语言
func GetSystemLanguage() string {
	mu.RLock()
	defer mu.RUnlock()
	return systemLanguage
}
