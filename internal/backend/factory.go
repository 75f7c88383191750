package backend

import (
	"context"
	"fmt"

	"spesync/internal/log"
	"spesync/internal/service/memory"
	"spesync/internal/service/rest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RESTBackend:
		return f.createRESTBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createRESTBackend(ctx context.Context, config Config) (*BackendResult, error) {
	logger := config.Logger
	if logger == nil {
		logger = f.logger
	}
	client, err := rest.New(rest.Config{
		BaseURL: config.BaseURL,
		Timeout: config.Timeout,
		Logger:  logger,
		Metrics: config.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST client: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized REST backend", "base_url", client.BaseURL())

	return &BackendResult{Backend: client}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := memory.New(memory.Config{
		Secret:               config.Secret,
		TokenTTL:             config.TokenTTL,
		PrimaryAdmin:         config.PrimaryAdmin,
		PrimaryAdminPassword: config.PrimaryAdminPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized memory backend")

	return &BackendResult{Backend: store}, nil
}
