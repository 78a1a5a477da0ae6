package config

import (
	"reflect"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"    // 新增
	ChangeTypeModified ChangeType = "modified" // 修改
	ChangeTypeDeleted  ChangeType = "deleted"  // 删除
)

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"`             // 配置路径（如 "backtest.interval"）
	Type            ChangeType  `json:"type"`             // 变更类型
	OldValue        interface{} `json:"old_value"`        // 旧值
	NewValue        interface{} `json:"new_value"`        // 新值
	RequiresRestart bool        `json:"requires_restart"` // 是否需要重启
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`          // 变更列表
	RequiresRestart bool           `json:"requires_restart"` // 是否有需要重启的变更
}

// restartPaths 修改后需要重启才能生效的配置前缀
var restartPaths = []string{
	"app.timezone",
	"app.log_dir",
	"app.log_db",
	"data",             // 数据源在启动时创建
	"database",         // 连接池
	"cache",            // Redis 客户端
	"distributed_lock", // Redis 客户端
	"metrics",          // 路由注册
	"web",              // 监听地址
}

// DiffConfig 对比两个配置，生成差异
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	diff.compare(reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig), "")

	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}
	return diff
}

// Paths 变更路径列表
func (d *ConfigDiff) Paths() []string {
	paths := make([]string, len(d.Changes))
	for i, change := range d.Changes {
		paths[i] = change.Path
	}
	return paths
}

// compare 递归对比，按 yaml 标签拼接路径
func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	if oldVal.Kind() == reflect.Ptr {
		oldVal = derefOrInvalid(oldVal)
	}
	if newVal.Kind() == reflect.Ptr {
		newVal = derefOrInvalid(newVal)
	}

	switch {
	case !oldVal.IsValid() && !newVal.IsValid():
		return
	case !newVal.IsValid():
		d.addChange(path, ChangeTypeDeleted, oldVal.Interface(), nil)
		return
	case !oldVal.IsValid():
		d.addChange(path, ChangeTypeAdded, nil, newVal.Interface())
		return
	}

	if oldVal.Kind() != reflect.Struct {
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.addChange(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
		return
	}

	typ := oldVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		name := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}
		d.compare(oldVal.Field(i), newVal.Field(i), fieldPath)
	}
}

func derefOrInvalid(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return reflect.Value{}
	}
	return v.Elem()
}

// addChange 添加变更记录
func (d *ConfigDiff) addChange(path string, changeType ChangeType, oldValue, newValue interface{}) {
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            changeType,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: requiresRestart(path),
	})
}

// requiresRestart 判断配置路径是否需要重启
func requiresRestart(path string) bool {
	for _, p := range restartPaths {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}
