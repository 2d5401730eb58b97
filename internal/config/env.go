package config

import "os"

// Environment variable names for overrides.
const (
	// EnvConfig overrides the config file path.
	EnvConfig = "ODAVL_CONFIG"
	// EnvServer overrides the backend base URL.
	EnvServer = "ODAVL_SERVER"
	// EnvAPIKey supplies an API key that takes precedence over the
	// persisted credential vault.
	EnvAPIKey = "ODAVL_API_KEY"
	// EnvDataDir overrides the profile directory holding the vault and queue.
	EnvDataDir = "ODAVL_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ODAVL_CONFIG: override config file path
	Server     string // ODAVL_SERVER: backend base URL override
	APIKey     string // ODAVL_API_KEY: API key override (beats the vault)
	DataDir    string // ODAVL_DATA_DIR: profile directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Server:     os.Getenv(EnvServer),
		APIKey:     os.Getenv(EnvAPIKey),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
