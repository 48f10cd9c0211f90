// Package config provides configuration loading, merging, and path
// management for the bridge.
//
// Configuration is assembled from multiple sources in priority order:
// the global config directory (~/.config/zed-claude-code), a per-project
// .zed-claude-code.json next to the session working directory, a file
// named by ZED_CLAUDE_CONFIG, and finally ZED_CLAUDE_* environment
// variables. Later sources override earlier ones field by field.
//
// Files may be JSON or JSONC (comments are stripped with tidwall/jsonc)
// and support {env:VAR} and {file:path} interpolation, so secrets can be
// referenced without inlining them.
package config
