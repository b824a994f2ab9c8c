package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/davarch/regsync/internal/application"
	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/config"
	"github.com/davarch/regsync/internal/infrastructure/pipeline_http"
	"github.com/davarch/regsync/internal/infrastructure/registry_http"
)

func newPipeline(cfg config.Config, component string) *pipeline_http.Client {
	sender := cfg.Pipeline.ServiceName
	if component != "" {
		sender += "-" + component
	}
	return pipeline_http.New(cfg.Pipeline.ServerURL, cfg.Pipeline.APIKey, sender, cfg.Pipeline.SenderType, cfg.Pipeline.Timeout)
}

// newRegistry resolves the registry token from the pipeline secret store and
// checks it before anything else talks to the registry.
func newRegistry(ctx context.Context, cfg config.Config, p domain.Pipeline) (*registry_http.Client, domain.TokenInfo, error) {
	token, err := p.Secret(ctx, cfg.Registry.TokenSecret)
	if err != nil {
		return nil, domain.TokenInfo{}, fmt.Errorf("registry token: %w", err)
	}

	reg := registry_http.New(cfg.Registry.BaseURL, token, cfg.Registry.Timeout)
	info, err := reg.VerifyToken(ctx)
	if err != nil {
		return nil, domain.TokenInfo{}, fmt.Errorf("verify registry token: %w", err)
	}
	if info.UserID == "" {
		return nil, domain.TokenInfo{}, errors.New("verify registry token: empty user id")
	}
	return reg, info, nil
}

func resolveBase(ctx context.Context, reg domain.Registry, name string) (domain.Base, error) {
	bases, err := reg.ListBases(ctx)
	if err != nil {
		return domain.Base{}, fmt.Errorf("list bases: %w", err)
	}
	return application.ResolveBase(bases, name)
}
