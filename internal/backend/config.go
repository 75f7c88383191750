package backend

import (
	"fmt"

	"spesync/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		BaseURL: appConfig.APIURL,
		Timeout: appConfig.HTTPTimeout,

		Secret:               appConfig.JWTSecret,
		TokenTTL:             appConfig.TokenTTL,
		PrimaryAdmin:         appConfig.PrimaryAdminUsername,
		PrimaryAdminPassword: appConfig.PrimaryAdminPassword,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == RESTBackend && c.BaseURL == "" {
		return fmt.Errorf("base URL is required for rest backend")
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{RESTBackend.String(), MemoryBackend.String()}
}
