// Package config provides environment-variable defaults for voicekit
// commands. Flags always win; these only fill in unset values.
package config

import "os"

// Default server configuration.
const (
	DefaultPort   = "8080"
	DefaultDBPath = "voicekit.db"
)

// Port returns the HTTP port from the PORT env var or the default.
func Port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return DefaultPort
}

// DBPath returns the configuration database path from VOICEKIT_DB or the
// default.
func DBPath() string {
	if p := os.Getenv("VOICEKIT_DB"); p != "" {
		return p
	}
	return DefaultDBPath
}

// ToolEndpoint returns the backend URL server-side tools POST to, from
// VOICEKIT_TOOL_ENDPOINT. Empty means tools run against the built-in
// /api/tools/execute handler.
func ToolEndpoint() string {
	return os.Getenv("VOICEKIT_TOOL_ENDPOINT")
}

// ReportURL returns the usage reporting endpoint from VOICEKIT_REPORT_URL.
// Empty disables reporting.
func ReportURL() string {
	return os.Getenv("VOICEKIT_REPORT_URL")
}

// ReportOAuth returns the client-credentials parameters for the reporting
// endpoint. The secret itself stays in the environment; only the variable
// name is passed around.
func ReportOAuth() (clientID, secretEnvVar, tokenURL string, ok bool) {
	clientID = os.Getenv("VOICEKIT_REPORT_OAUTH_CLIENT_ID")
	tokenURL = os.Getenv("VOICEKIT_REPORT_OAUTH_TOKEN_URL")
	if clientID == "" || tokenURL == "" {
		return "", "", "", false
	}
	return clientID, "VOICEKIT_REPORT_OAUTH_CLIENT_SECRET", tokenURL, true
}

// LogLevel returns the log level name from VOICEKIT_LOG_LEVEL or "info".
func LogLevel() string {
	if l := os.Getenv("VOICEKIT_LOG_LEVEL"); l != "" {
		return l
	}
	return "info"
}
