package config

import (
	"os"
	"strings"
)

// Environment variables consulted by the CLI.
const (
	EnvConfig    = "BLOGMIRROR_CONFIG"
	EnvIndex     = "BLOGMIRROR_INDEX"
	EnvArtifacts = "BLOGMIRROR_ARTIFACTS"
	EnvAuditDSN  = "BLOGMIRROR_AUDIT_DSN"
	EnvBaseURL   = "BLOGMIRROR_BASE_URL"
)

// ApplyEnv overrides storage locations and the base URL from the
// environment.
func (c *FileConfig) ApplyEnv() {
	c.Storage.Index = getEnv(EnvIndex, c.Storage.Index)
	c.Storage.Artifacts = getEnv(EnvArtifacts, c.Storage.Artifacts)
	c.Storage.AuditDSN = getEnv(EnvAuditDSN, c.Storage.AuditDSN)
	c.Blog.BaseURL = getEnv(EnvBaseURL, c.Blog.BaseURL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
