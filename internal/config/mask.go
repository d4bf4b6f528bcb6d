package config

import "net/url"

// maskCredentials redacts the userinfo component of a database URL for safe logging,
// leaving the rest of the connection string (host, database, query params) intact.
func maskCredentials(raw string) string {
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	u.User = url.UserPassword("***", "***")

	return u.String()
}
