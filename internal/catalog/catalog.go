// Package catalog holds the static model catalog, its derived views, and
// the per-user access filter.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/config"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/pkg/models"
)

// Cache key prefixes. Keys are prefix:part.
const (
	keyModelConfig     = "model-config"
	keyModelByModel    = "model-by-model"
	keyMatchingModel   = "matching-model"
	keyModelByMatching = "model-by-matching"
	keyUserModels      = "user-models"
)

const lookupTTL = time.Hour

// Catalog is the immutable model catalog plus its memoised views. Safe for
// concurrent use after New.
type Catalog struct {
	all        []*models.ModelDescriptor
	byName     map[string]*models.ModelDescriptor
	byMatching map[string]*models.ModelDescriptor

	// Memoised derived views, computed once at construction.
	visible      []*models.ModelDescriptor
	free         []*models.ModelDescriptor
	featured     []*models.ModelDescriptor
	routerModels []*models.ModelDescriptor
	byCapability map[string][]*models.ModelDescriptor
	byModality   map[models.Modality][]*models.ModelDescriptor

	alwaysEnabled map[string]bool
	cache         cache.Cache
	settings      storage.ProviderSettingStore
	logger        *observability.Logger
}

// New builds a catalog over the built-in descriptors.
func New(providers config.ProvidersConfig, c cache.Cache, settings storage.ProviderSettingStore, logger *observability.Logger) *Catalog {
	return NewWithModels(builtinModels(), providers, c, settings, logger)
}

// NewWithModels builds a catalog over an explicit descriptor set. Used by
// tests that need a small controlled catalog.
func NewWithModels(descriptors []*models.ModelDescriptor, providers config.ProvidersConfig, c cache.Cache, settings storage.ProviderSettingStore, logger *observability.Logger) *Catalog {
	cat := &Catalog{
		all:           descriptors,
		byName:        make(map[string]*models.ModelDescriptor, len(descriptors)),
		byMatching:    make(map[string]*models.ModelDescriptor, len(descriptors)),
		byCapability:  make(map[string][]*models.ModelDescriptor),
		byModality:    make(map[models.Modality][]*models.ModelDescriptor),
		alwaysEnabled: providers.AlwaysEnabledSet(),
		cache:         c,
		settings:      settings,
		logger:        logger,
	}
	for _, m := range descriptors {
		cat.byName[m.Name] = m
		cat.byMatching[m.MatchingModel] = m
		if !m.IsBeta {
			cat.visible = append(cat.visible, m)
		}
		if m.IsFree {
			cat.free = append(cat.free, m)
		}
		if m.IsFeatured {
			cat.featured = append(cat.featured, m)
		}
		if m.IncludedInRouter {
			cat.routerModels = append(cat.routerModels, m)
		}
		for _, tag := range m.Strengths {
			cat.byCapability[tag] = append(cat.byCapability[tag], m)
		}
		for _, mod := range m.InputModalities {
			cat.byModality[mod] = append(cat.byModality[mod], m)
		}
	}
	return cat
}

// Models returns every non-beta model.
func (c *Catalog) Models() []*models.ModelDescriptor { return c.visible }

// FreeModels returns the models available without provider credentials.
func (c *Catalog) FreeModels() []*models.ModelDescriptor { return c.free }

// FeaturedModels returns the featured subset.
func (c *Catalog) FeaturedModels() []*models.ModelDescriptor { return c.featured }

// RouterModels returns the models eligible for automatic selection.
func (c *Catalog) RouterModels() []*models.ModelDescriptor { return c.routerModels }

// ModelsByCapability returns the models carrying a capability tag.
func (c *Catalog) ModelsByCapability(tag string) []*models.ModelDescriptor {
	return c.byCapability[tag]
}

// ModelsByModality returns the models accepting an input modality.
func (c *Catalog) ModelsByModality(m models.Modality) []*models.ModelDescriptor {
	return c.byModality[m]
}

// GetModelConfig looks up a model by catalog name, reading through the
// shared cache.
func (c *Catalog) GetModelConfig(ctx context.Context, name string) (*models.ModelDescriptor, error) {
	return cache.Query(ctx, c.cache, cache.Key(keyModelConfig, name), cache.QueryOptions{TTL: lookupTTL},
		func(context.Context) (*models.ModelDescriptor, error) {
			if m, ok := c.byName[name]; ok {
				return m, nil
			}
			return nil, fmt.Errorf("model %q: %w", name, errs.ErrNotFound)
		})
}

// GetModelConfigByModel looks up a model by catalog name or, failing that,
// by the upstream matching model. This is the tolerant form used when
// resolving an explicit caller-supplied model.
func (c *Catalog) GetModelConfigByModel(ctx context.Context, model string) (*models.ModelDescriptor, error) {
	return cache.Query(ctx, c.cache, cache.Key(keyModelByModel, model), cache.QueryOptions{TTL: lookupTTL},
		func(context.Context) (*models.ModelDescriptor, error) {
			if m, ok := c.byName[model]; ok {
				return m, nil
			}
			if m, ok := c.byMatching[model]; ok {
				return m, nil
			}
			return nil, fmt.Errorf("model %q: %w", model, errs.ErrNotFound)
		})
}

// GetMatchingModel resolves a catalog name to the upstream model id.
func (c *Catalog) GetMatchingModel(ctx context.Context, name string) (string, error) {
	return cache.Query(ctx, c.cache, cache.Key(keyMatchingModel, name), cache.QueryOptions{TTL: lookupTTL},
		func(context.Context) (string, error) {
			if m, ok := c.byName[name]; ok {
				return m.MatchingModel, nil
			}
			return "", fmt.Errorf("model %q: %w", name, errs.ErrNotFound)
		})
}

// GetModelConfigByMatchingModel looks up a model by its upstream id.
func (c *Catalog) GetModelConfigByMatchingModel(ctx context.Context, matching string) (*models.ModelDescriptor, error) {
	return cache.Query(ctx, c.cache, cache.Key(keyModelByMatching, matching), cache.QueryOptions{TTL: lookupTTL},
		func(context.Context) (*models.ModelDescriptor, error) {
			if m, ok := c.byMatching[matching]; ok {
				return m, nil
			}
			return nil, fmt.Errorf("matching model %q: %w", matching, errs.ErrNotFound)
		})
}

// FilterModelsForUserAccess returns the router-eligible models the user may
// use. userID 0 means anonymous. Settings fetch failures degrade to the
// anonymous rule rather than failing the request.
func (c *Catalog) FilterModelsForUserAccess(ctx context.Context, userID uint64) []*models.ModelDescriptor {
	if userID == 0 {
		return c.anonymousModels()
	}

	names, err := cache.Query(ctx, c.cache, cache.Key(keyUserModels, fmt.Sprint(userID)),
		cache.QueryOptions{TTL: lookupTTL},
		func(ctx context.Context) ([]string, error) {
			settings, err := c.settings.GetProviderSettings(ctx, userID)
			if err != nil {
				return nil, err
			}
			enabled := make(map[string]bool, len(c.alwaysEnabled)+len(settings))
			for p := range c.alwaysEnabled {
				enabled[p] = true
			}
			for _, s := range settings {
				if s.Enabled && s.HasCredentials {
					enabled[s.ProviderID] = true
				}
			}
			var names []string
			for _, m := range c.routerModels {
				if m.IsFree || enabled[m.Provider] {
					names = append(names, m.Name)
				}
			}
			sort.Strings(names)
			return names, nil
		})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(ctx, "provider settings unavailable, using anonymous model access",
				"user_id", userID, "error", err)
		}
		return c.anonymousModels()
	}

	out := make([]*models.ModelDescriptor, 0, len(names))
	for _, name := range names {
		if m, ok := c.byName[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Catalog) anonymousModels() []*models.ModelDescriptor {
	var out []*models.ModelDescriptor
	for _, m := range c.routerModels {
		if m.IsFree || c.alwaysEnabled[m.Provider] {
			out = append(out, m)
		}
	}
	return out
}
