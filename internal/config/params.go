package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"kabuscan/internal/logger"
)

// Params 是面向脚本参数的宽松取值器：首次访问时惰性加载配置文件并缓存，
// Reload 使缓存失效并强制重读。与 Load 不同，任何失败都不报错——
// 文件缺失视为空配置，键缺失返回调用方给定的默认值。
type Params struct {
	path string

	mu       sync.RWMutex
	loaded   bool
	settings map[string]any
}

// NewParams 构造参数取值器，不触发文件读取。
func NewParams(path string) *Params {
	return &Params{path: path}
}

// Get 按点号路径取值，逐段下钻嵌套映射。任一段缺失、或中间值不可继续
// 下钻时返回 def。
func (p *Params) Get(name string, def any) any {
	settings := p.load()
	var current any = settings
	for _, part := range splitDotted(name) {
		m, ok := asStringMap(current)
		if !ok {
			return def
		}
		next, ok := m[part]
		if !ok {
			return def
		}
		current = next
	}
	if current == nil {
		return def
	}
	return current
}

// GetString 取字符串参数，类型不符时返回 def。
func (p *Params) GetString(name, def string) string {
	if v, ok := p.Get(name, def).(string); ok {
		return v
	}
	return def
}

// Reload 清空缓存，下一次 Get 重新读取文件。
func (p *Params) Reload() {
	p.mu.Lock()
	p.loaded = false
	p.settings = nil
	p.mu.Unlock()
}

// Watch 监听配置文件所在目录，文件被改写时使缓存失效。阻塞直到 stop 被关闭。
// 监听目录而非文件本身：编辑器经常以重命名方式落盘。
func (p *Params) Watch(stop <-chan struct{}) error {
	if strings.TrimSpace(p.path) == "" {
		return fmt.Errorf("params watch: 配置路径为空")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher failed: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s failed: %w", dir, err)
	}
	target := filepath.Clean(p.path)
	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			p.Reload()
			logger.Infof("配置文件已变更，参数缓存失效：%s", p.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("fsnotify 错误: %v", err)
		}
	}
}

func (p *Params) load() map[string]any {
	p.mu.RLock()
	if p.loaded {
		s := p.settings
		p.mu.RUnlock()
		return s
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.settings
	}
	p.settings = readSettings(p.path)
	p.loaded = true
	return p.settings
}

// readSettings 读取配置文件为嵌套映射。读不到（缺失、损坏）一律按空配置处理。
func readSettings(path string) map[string]any {
	if path == "" {
		return map[string]any{}
	}
	if _, err := os.Stat(path); err != nil {
		return map[string]any{}
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return map[string]any{}
	}
	settings := v.AllSettings()
	if settings == nil {
		return map[string]any{}
	}
	return settings
}

// splitDotted 切分点号路径。viper 的 AllSettings 统一小写键名，这里跟随。
func splitDotted(name string) []string {
	var parts []string
	for _, part := range strings.Split(name, ".") {
		parts = append(parts, strings.ToLower(part))
	}
	return parts
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			// 与 splitDotted 的小写化保持一致
			out[strings.ToLower(ks)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
