package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile 把 YAML 配置解码到 out，支持多环境：
//  1. 读取 path（例如 config.yaml）
//  2. 同目录下存在 config.<env>.yaml 时覆盖到同一个结构体上
//  3. ${VAR} 占位符先查同目录的 secrets.env，再查系统环境变量
//
// 之后由各个 Override*FromEnv 用环境变量做最终覆盖。
func LoadFile(path, env string, out any) error {
	dir := filepath.Dir(path)
	secrets, err := loadEnvFile(filepath.Join(dir, "secrets.env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load secrets.env: %w", err)
	}

	if err := decodeYAMLFile(path, secrets, out); err != nil {
		return fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	if env != "" && env != "base" {
		ext := filepath.Ext(path)
		overlay := strings.TrimSuffix(path, ext) + "." + env + ext
		err := decodeYAMLFile(overlay, secrets, out)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", filepath.Base(overlay), err)
		}
	}
	return nil
}

// decodeYAMLFile 解码到已有结构体上，文件中没有出现的字段保持原值
func decodeYAMLFile(path string, secrets map[string]string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := secrets[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
	return yaml.Unmarshal([]byte(expanded), out)
}

// loadEnvFile 加载 .env 文件
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		value = strings.Trim(value, `'`)
		env[strings.TrimSpace(key)] = value
	}
	return env, nil
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
