package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"kabuscan/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition 描述一个命名的筛选档位，可整体覆盖主配置的筛选参数。
type ProfileDefinition struct {
	Name         string  `yaml:"-"`
	Description  string  `yaml:"description"`
	LookbackDays int     `yaml:"lookback_days"`
	Threshold    float64 `yaml:"threshold"`
	TopN         int     `yaml:"top_n"`
	DelayDays    *int    `yaml:"delay_days"`
	MinPoints    int     `yaml:"min_points"`
	Mode         string  `yaml:"mode"`
	Default      bool    `yaml:"default"`
}

// FileConfig 是完整的档位配置文件结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Get 按名称取档位；name 为空时返回标记为 default 的档位。
func (s ProfileSnapshot) Get(name string) (ProfileDefinition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		def, ok := s.Profiles[name]
		return def, ok
	}
	names := make([]string, 0, len(s.Profiles))
	for n := range s.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if s.Profiles[n].Default {
			return s.Profiles[n], true
		}
	}
	return ProfileDefinition{}, false
}

// profileSchemaJSON 约束档位参数的结构与取值范围。
const profileSchemaJSON = `{
  "type": "object",
  "properties": {
    "description":   {"type": "string"},
    "lookback_days": {"type": "integer", "minimum": 1},
    "threshold":     {"type": "number", "exclusiveMinimum": 0},
    "top_n":         {"type": "integer", "minimum": 1},
    "delay_days":    {"type": "integer", "minimum": 0},
    "min_points":    {"type": "integer", "minimum": 1},
    "mode":          {"type": "string", "enum": ["current_peak", "rolling_max"]},
    "default":       {"type": "boolean"}
  },
  "additionalProperties": false
}`

var (
	schemaOnce    sync.Once
	profileSchema *jsonschema.Schema
	schemaInitErr error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profiles.schema.json", strings.NewReader(profileSchemaJSON)); err != nil {
			schemaInitErr = err
			return
		}
		profileSchema, schemaInitErr = compiler.Compile("profiles.schema.json")
	})
	return profileSchema, schemaInitErr
}

// Loader 加载档位文件并可选地监听文件变更。
type Loader struct {
	path string

	mu       sync.RWMutex
	snapshot ProfileSnapshot
	version  int64
}

// New 构造 Loader 并完成首次加载。
func New(path string) (*Loader, error) {
	l := &Loader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Snapshot 返回当前档位快照。
func (l *Loader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Loader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading profiles file failed (%s): %w", l.path, err)
	}
	var file FileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing profiles file failed: %w", err)
	}
	if len(file.Profiles) == 0 {
		return fmt.Errorf("profiles file %s defines no profiles", l.path)
	}
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compiling profile schema failed: %w", err)
	}
	profiles := make(map[string]ProfileDefinition, len(file.Profiles))
	var rawDocs map[string]any
	if err := yaml.Unmarshal(raw, &rawDocs); err != nil {
		return fmt.Errorf("parsing profiles file failed: %w", err)
	}
	rawProfiles, _ := rawDocs["profiles"].(map[string]any)
	for name, def := range file.Profiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if node, ok := rawProfiles[name]; ok {
			if err := validateProfileNode(schema, node); err != nil {
				return fmt.Errorf("profile %q invalid: %w", name, err)
			}
		}
		def.Name = key
		profiles[key] = def
	}
	l.mu.Lock()
	l.version++
	l.snapshot = ProfileSnapshot{Version: l.version, LoadedAt: time.Now(), Profiles: profiles}
	l.mu.Unlock()
	logger.Infof("筛选档位已加载：%d 个（%s）", len(profiles), l.path)
	return nil
}

// validateProfileNode 把 YAML 解码出的节点折算成 JSON 值域后再做 schema 校验。
func validateProfileNode(schema *jsonschema.Schema, node any) error {
	buf, err := json.Marshal(node)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// Watch 监听档位文件所在目录，文件被改写时自动重载。重载失败只告警，
// 旧快照继续生效。阻塞直到 stop 被关闭。
func (l *Loader) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher failed: %w", err)
	}
	defer watcher.Close()
	// 监听目录而非文件本身：编辑器经常以重命名方式落盘。
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s failed: %w", dir, err)
	}
	target := filepath.Clean(l.path)
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
			if err := l.reload(); err != nil {
				logger.Warnf("档位文件重载失败，沿用旧快照: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("fsnotify 错误: %v", err)
		}
	}
}
