package config

import "os"

// APIKeySource represents where an API key comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of an API key.
type KeyStatus struct {
	Name     string       `json:"name"`
	Source   APIKeySource `json:"source"`
	IsSet    bool         `json:"is_set"`
	Masked   string       `json:"masked,omitempty"` // e.g., "AAA...xyz"
}

// CheckAPIKeys returns the status of the posting credentials.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("Bearer Token", cfg.Twitter.BearerToken, "BEARER_TOKEN"),
		checkKey("API Key", cfg.Twitter.APIKey, "API_KEY"),
		checkKey("API Secret", cfg.Twitter.APISecret, "API_SECRET"),
		checkKey("Access Token", cfg.Twitter.AccessToken, "ACCESS_TOKEN"),
		checkKey("Access Token Secret", cfg.Twitter.AccessTokenSecret, "ACCESS_TOKEN_SECRET"),
	}
}

// MissingKeys returns the names of credentials that are not set.
func MissingKeys(cfg *Config) []string {
	var missing []string
	for _, s := range CheckAPIKeys(cfg) {
		if !s.IsSet {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// checkKey checks if a key is set and where it came from.
func checkKey(name, value, envVar string) KeyStatus {
	status := KeyStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value != "" {
		// Check if it came from env
		if os.Getenv(envVar) != "" {
			status.Source = KeySourceEnv
		} else {
			status.Source = KeySourceConfig
		}
		status.Masked = maskKey(value)
	} else {
		status.Source = KeySourceNone
	}

	return status
}

// maskKey masks an API key for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
