package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// DefaultTerminalOutputLimit bounds terminal output captured per command.
const DefaultTerminalOutputLimit = 1024 * 1024

// Config holds bridge configuration.
type Config struct {
	// ClaudePath is the Claude Code executable. Empty means look up
	// "claude" on PATH at startup.
	ClaudePath string `json:"claudePath,omitempty"`
	// ClaudeArgs are extra arguments appended to every model process
	// invocation.
	ClaudeArgs []string `json:"claudeArgs,omitempty"`
	// LogLevel is the minimum log level (debug, info, warn, error, fatal).
	LogLevel string `json:"logLevel,omitempty"`
	// LogFile is an optional log sink path. Empty logs to stderr.
	LogFile string `json:"logFile,omitempty"`
	// TerminalOutputLimit is the per-command output byte cap requested
	// from the editor's terminal capability.
	TerminalOutputLimit int `json:"terminalOutputLimit,omitempty"`
	// Env is extra environment passed to the model process.
	Env map[string]string `json:"env,omitempty"`
}

// Default returns a Config with built-in defaults only, ignoring files
// and environment.
func Default() *Config {
	return &Config{TerminalOutputLimit: DefaultTerminalOutputLimit}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/zed-claude-code/config.json[c])
// 2. Project config (<dir>/.zed-claude-code.json)
// 3. ZED_CLAUDE_CONFIG file
// 4. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{
		TerminalOutputLimit: DefaultTerminalOutputLimit,
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "config.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "config.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		loadOnce(ProjectConfigPath(directory), directory)
	}

	// 3. ZED_CLAUDE_CONFIG file override
	if configPath := os.Getenv("ZED_CLAUDE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	if config.TerminalOutputLimit <= 0 {
		config.TerminalOutputLimit = DefaultTerminalOutputLimit
	}

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.ClaudePath != "" {
		target.ClaudePath = source.ClaudePath
	}
	if len(source.ClaudeArgs) > 0 {
		target.ClaudeArgs = append(target.ClaudeArgs, source.ClaudeArgs...)
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogFile != "" {
		target.LogFile = source.LogFile
	}
	if source.TerminalOutputLimit > 0 {
		target.TerminalOutputLimit = source.TerminalOutputLimit
	}
	if source.Env != nil {
		if target.Env == nil {
			target.Env = make(map[string]string)
		}
		for k, v := range source.Env {
			target.Env[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	if path := os.Getenv("ZED_CLAUDE_PATH"); path != "" {
		config.ClaudePath = path
	}
	if level := os.Getenv("ZED_CLAUDE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if file := os.Getenv("ZED_CLAUDE_LOG_FILE"); file != "" {
		config.LogFile = file
	}
	if limit := os.Getenv("ZED_CLAUDE_TERMINAL_OUTPUT_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			config.TerminalOutputLimit = n
		}
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
