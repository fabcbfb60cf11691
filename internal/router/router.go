// Package router turns an authenticated request into a ResolvedRoute: which
// provider serves it, with which model, credential and base URL. The route is
// computed once per request and handed to the adapter and transport layers
// unchanged.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
	"github.com/ledgergate/ledgergate/internal/store"
)

type Router struct {
	store *store.Store
}

func New(st *store.Store) *Router {
	return &Router{store: st}
}

// Resolve authenticates the bearer token and maps the request model field to
// a concrete provider route.
//
// The model field accepts four shapes:
//
//	auto              routed to the default model
//	custom            routed to the project's custom base URL
//	provider/model    explicit provider
//	model             first provider serving that model id
func (r *Router) Resolve(ctx context.Context, token, modelField string) (*domain.ResolvedRoute, error) {
	key, err := r.store.APIKeys.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	project, err := r.store.Projects.GetByID(ctx, key.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", key.ProjectID, err)
	}

	route := &domain.ResolvedRoute{
		RequestedModel: modelField,
		APIKeyID:       key.ID,
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		CacheEnabled:   project.CachingEnabled,
		CacheTTL:       project.CacheDuration,
	}
	if route.CacheEnabled && route.CacheTTL <= 0 {
		route.CacheTTL = 5 * time.Minute
	}

	if modelField == registry.ModelCustom {
		return r.resolveCustom(ctx, route)
	}

	var model registry.Model
	if modelField == registry.ModelAuto {
		model = registry.DefaultRoute
	} else {
		providerID, modelID := registry.SplitModelField(modelField)
		route.RequestedProvider = providerID

		var ok bool
		model, ok = registry.ModelByID(modelID, providerID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrModelNotSupported, modelField)
		}
	}

	provider, ok := registry.ProviderByID(model.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, model.Provider)
	}

	route.UsedModel = model.ID
	route.UsedProvider = provider.ID
	route.UpstreamURL = provider.BaseURL
	route.SupportsStreaming = provider.Streaming && !model.NoStream
	route.SupportsCancel = provider.Cancel

	providerKey, err := r.store.ProviderKeys.GetForProject(ctx, project.ID, provider.ID)
	switch {
	case err == nil:
		route.ProviderKeyID = providerKey.ID
		route.Credential = providerKey.Token
		if providerKey.BaseURL != "" {
			route.UpstreamURL = providerKey.BaseURL
		}
	case provider.Family == registry.FamilyBedrock:
		// Bedrock auth rides the ambient AWS credential chain; a stored key
		// is optional.
	default:
		return nil, err
	}

	return route, nil
}

// resolveCustom routes the reserved "custom" model to the project's own
// OpenAI-compatible endpoint. The base URL lives on the provider key.
func (r *Router) resolveCustom(ctx context.Context, route *domain.ResolvedRoute) (*domain.ResolvedRoute, error) {
	providerKey, err := r.store.ProviderKeys.GetForProject(ctx, route.ProjectID, registry.CustomProvider)
	if err != nil {
		return nil, err
	}
	if providerKey.BaseURL == "" {
		return nil, fmt.Errorf("%w: custom model requires a base URL on the provider key", domain.ErrInvalidRequest)
	}

	provider, _ := registry.ProviderByID(registry.CustomProvider)

	route.UsedModel = registry.ModelCustom
	route.UsedProvider = registry.CustomProvider
	route.UpstreamURL = providerKey.BaseURL
	route.Credential = providerKey.Token
	route.ProviderKeyID = providerKey.ID
	route.SupportsStreaming = provider.Streaming
	route.SupportsCancel = provider.Cancel
	return route, nil
}
