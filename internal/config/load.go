package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"yolo-export/internal/logger"
	"yolo-export/internal/types"
)

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// expandEnvVars replaces $(VAR) with the variable's value
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := mapEnvKey(envPattern.FindStringSubmatch(m)[1])
		return os.Getenv(key)
	})
}

// ConfigManager loads and saves the YAML config file.
type ConfigManager struct {
	configPath string
	explicit   bool // path was given by the user, so it must exist
	config     *Config
}

// NewConfigManager creates a ConfigManager. An empty path means
// DefaultConfigFileName in the current directory, which may be absent.
func NewConfigManager(configPath string) *ConfigManager {
	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigFileName
	}
	return &ConfigManager{
		configPath: configPath,
		explicit:   explicit,
		config:     Default(),
	}
}

// Load reads the config file, expands $(ENV) placeholders and applies
// defaults for everything left unset.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) && !m.explicit {
			logger.Debug("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = Default()
			return nil
		}
		return types.NewAppError(types.ErrConfig, "failed to read config file", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to parse config file", err)
	}
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return err
	}

	logger.Info("configuration loaded",
		logger.String("path", m.configPath),
		logger.String("model", cfg.Model),
		logger.String("pythonMode", cfg.Python.Mode))
	m.config = cfg
	return nil
}

// Save writes the current configuration to the config path.
func (m *ConfigManager) Save() error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *Config {
	if m.config == nil {
		return Default()
	}
	return m.config
}

// SetConfig replaces the configuration; missing fields get defaults.
func (m *ConfigManager) SetConfig(cfg *Config) {
	applyDefaults(cfg)
	m.config = cfg
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// Validate rejects values the exporter cannot act on.
func Validate(cfg *Config) error {
	var problems []string

	if strings.ContainsAny(cfg.Model, `/\`) {
		problems = append(problems, fmt.Sprintf("model %q must be a bare name", cfg.Model))
	}
	if cfg.Export.ImgSize <= 0 {
		problems = append(problems, fmt.Sprintf("export.imgsz %d must be positive", cfg.Export.ImgSize))
	}
	if cfg.Export.Timeout < 0 {
		problems = append(problems, "export.timeout must not be negative")
	}
	switch cfg.Python.Mode {
	case PythonModeSystem, PythonModeManaged:
	default:
		problems = append(problems, fmt.Sprintf("python.mode %q must be %q or %q", cfg.Python.Mode, PythonModeSystem, PythonModeManaged))
	}
	if _, ok := logger.ParseLevel(cfg.Logging.Level); !ok {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	if len(problems) > 0 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid configuration", strings.Join(problems, "; "), nil)
	}
	return nil
}
