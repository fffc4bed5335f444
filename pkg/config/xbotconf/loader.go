package xbotconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"
	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// EnvPrefix 环境变量覆盖的前缀。
const EnvPrefix = "BOTKIT_"

const delim = "."

// Loader 配置加载器。持有底层 koanf 实例，支持重载与监视。
// 并发安全。
type Loader struct {
	mu     sync.RWMutex
	k      *koanf.Koanf
	path   string
	format Format
}

// Load 从文件加载配置，按扩展名识别格式，
// 再叠加 BOTKIT_ 前缀的环境变量。
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	l := &Loader{path: path, format: format}
	k, err := l.build()
	if err != nil {
		return nil, err
	}
	l.k = k
	return l, nil
}

// LoadBytes 从字节数据加载配置（如 ConfigMap 注入的内容），
// 需要显式指定格式。同样叠加环境变量，但不支持重载与监视。
func LoadBytes(data []byte, format Format) (*Loader, error) {
	if !validFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(delim)
	if len(data) > 0 {
		if err := loadData(k, data, format); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(k); err != nil {
		return nil, err
	}
	return &Loader{k: k, format: format}, nil
}

// Snapshot 返回经过默认值填充与校验的类型化配置快照。
func (l *Loader) Snapshot() (Config, error) {
	l.mu.RLock()
	k := l.k
	l.mu.RUnlock()

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Reload 重新读取配置文件并叠加环境变量。
// 新配置整体替换旧配置，读取方通过 Snapshot 拿到一致视图。
func (l *Loader) Reload() error {
	if l.path == "" {
		return ErrWatchUnsupported
	}

	k, err := l.build()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.k = k
	l.mu.Unlock()
	return nil
}

// Koanf 返回底层 koanf 实例，用于读取类型化结构未覆盖的键。
func (l *Loader) Koanf() *koanf.Koanf {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k
}

// Path 返回配置文件路径。从字节数据创建时为空串。
func (l *Loader) Path() string { return l.path }

// build 从文件与环境变量构建新的 koanf 实例。
func (l *Loader) build() (*koanf.Koanf, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	k := koanf.New(delim)
	if len(data) > 0 {
		if err := loadData(k, data, l.format); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(k); err != nil {
		return nil, err
	}
	return k, nil
}

// =============================================================================
// 内部辅助函数
// =============================================================================

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func validFormat(format Format) bool {
	return format == FormatYAML || format == FormatJSON
}

func loadData(k *koanf.Koanf, data []byte, format Format) error {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return nil
}

// applyEnv 把 BOTKIT_ 前缀的环境变量叠加到配置上。
// 双下划线分隔层级，单下划线保留在键名内：
// BOTKIT_LOCK__RETRY_DELAY → lock.retry_delay。
func applyEnv(k *koanf.Koanf) error {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		key = strings.ReplaceAll(key, "__", delim)
		if key == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("%w: env %s: %w", ErrParseFailed, name, err)
		}
	}
	return nil
}
