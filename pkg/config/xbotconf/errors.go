package xbotconf

import "errors"

var (
	// ErrEmptyPath 配置文件路径为空。
	ErrEmptyPath = errors.New("xbotconf: empty config path")

	// ErrUnsupportedFormat 不支持的配置格式（仅支持 YAML 与 JSON）。
	ErrUnsupportedFormat = errors.New("xbotconf: unsupported config format")

	// ErrLoadFailed 配置文件读取失败。
	ErrLoadFailed = errors.New("xbotconf: load config failed")

	// ErrParseFailed 配置内容解析失败。
	ErrParseFailed = errors.New("xbotconf: parse config failed")

	// ErrUnmarshalFailed 配置反序列化到目标结构失败。
	ErrUnmarshalFailed = errors.New("xbotconf: unmarshal config failed")

	// ErrValidation 配置值未通过校验。
	ErrValidation = errors.New("xbotconf: invalid config")

	// ErrWatchUnsupported 从字节数据创建的配置不支持监视与重载。
	ErrWatchUnsupported = errors.New("xbotconf: config not backed by a file")
)
