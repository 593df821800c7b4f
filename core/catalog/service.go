package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

var (
	// errors
	ErrCategoryNotFound = core.NewNotFoundError("category not found")
	ErrProductNotFound  = core.NewNotFoundError("product not found")
	ErrSlugExists       = errors.New("a category with this slug already exists")
	ErrProductInUse     = core.NewConflictError("product is referenced by orders or club courses")
)

const (
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
)

type (
	Repository interface {
		CreateCategory(ctx context.Context, cat Category) (Category, error)
		QueryCategories(ctx context.Context) ([]Category, error)
		GetCategory(ctx context.Context, id string) (Category, error)
		UpdateCategory(ctx context.Context, cat Category) (Category, error)
		DeleteCategory(ctx context.Context, id string) error

		CreateProduct(ctx context.Context, prod Product) (Product, error)
		QueryProducts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Product, error)
		GetProduct(ctx context.Context, id string) (Product, error)
		GetProductsByID(ctx context.Context, ids ...string) ([]Product, error)
		UpdateProduct(ctx context.Context, prod Product) (Product, error)
		DeleteProduct(ctx context.Context, id string) error
	}

	ServiceInterface interface {
		CreateCategory(ctx context.Context, nc NewCategory) (Category, error)
		QueryCategories(ctx context.Context) ([]Category, error)
		UpdateCategory(ctx context.Context, id string, nc NewCategory) (Category, error)
		DeleteCategory(ctx context.Context, id string) error

		CreateProduct(ctx context.Context, np NewProduct) (Product, error)
		QueryProducts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Product, error)
		GetProduct(ctx context.Context, id string) (Product, error)
		GetProductsByID(ctx context.Context, ids ...string) ([]Product, error)
		UpdateProduct(ctx context.Context, id string, up UpdateProduct) (Product, error)
		DeleteProduct(ctx context.Context, id string) error
	}

	Service struct {
		repo     Repository
		cache    core.Cache
		cacheTTL time.Duration
		events   core.EventPublisher
		logger   core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(conf *core.Config, repo Repository, cache core.Cache, events core.EventPublisher, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: conf.Redis.CacheTTL,
		events:   events,
		logger:   logger,
	}
}

func productCacheKey(id string) string { return "catalog:product:" + id }

func (svc *Service) slugErr(err error) error {
	if errors.Cause(err) == ErrSlugExists {
		return core.NewValidationError(ErrSlugExists, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
	}
	return err
}

func (svc *Service) CreateCategory(ctx context.Context, nc NewCategory) (Category, error) {
	now := time.Now().UTC()
	cat, err := svc.repo.CreateCategory(ctx, Category{Name: nc.Name, Slug: nc.Slug, CreatedAt: now, UpdatedAt: now})
	return cat, svc.slugErr(err)
}

func (svc *Service) QueryCategories(ctx context.Context) ([]Category, error) {
	return svc.repo.QueryCategories(ctx)
}

func (svc *Service) UpdateCategory(ctx context.Context, id string, nc NewCategory) (Category, error) {
	cat, err := svc.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, err
	}
	cat.Name = nc.Name
	cat.Slug = nc.Slug
	cat.UpdatedAt = time.Now().UTC()
	cat, err = svc.repo.UpdateCategory(ctx, cat)
	return cat, svc.slugErr(err)
}

func (svc *Service) DeleteCategory(ctx context.Context, id string) error {
	return svc.repo.DeleteCategory(ctx, id)
}

func (svc *Service) checkCategory(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := svc.repo.GetCategory(ctx, *id); err != nil {
		if errors.Cause(err) == ErrCategoryNotFound {
			return core.NewValidationError(err, core.FieldError{Field: "category_id", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) CreateProduct(ctx context.Context, np NewProduct) (Product, error) {
	if err := svc.checkCategory(ctx, np.CategoryID); err != nil {
		return Product{}, err
	}
	now := time.Now().UTC()
	prod := Product{
		CategoryID:  null.StringFromPtr(np.CategoryID),
		Kind:        np.Kind,
		Name:        np.Name,
		Description: np.Description,
		PriceCents:  np.PriceCents,
		Currency:    np.Currency,
		Stock:       null.IntFromPtr(np.Stock),
		IsActive:    np.IsActive == nil || *np.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	prod, err := svc.repo.CreateProduct(ctx, prod)
	if err != nil {
		return Product{}, err
	}
	svc.publish(ctx, EventProductCreated, prod)
	return prod, nil
}

func (svc *Service) QueryProducts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Product, error) {
	return svc.repo.QueryProducts(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

// GetProduct reads through the cache. Cache failures are logged and fall back to the repository.
func (svc *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	var prod Product
	key := productCacheKey(id)
	found, err := svc.cache.Get(ctx, key, &prod)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("catalog: reading cache %s: %v", key, err), err)
	}
	if found {
		return prod, nil
	}

	prod, err = svc.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := svc.cache.Set(ctx, key, prod, svc.cacheTTL); err != nil {
		svc.logger.Warn(fmt.Sprintf("catalog: writing cache %s: %v", key, err), err)
	}
	return prod, nil
}

func (svc *Service) GetProductsByID(ctx context.Context, ids ...string) ([]Product, error) {
	ids = core.UniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return svc.repo.GetProductsByID(ctx, ids...)
}

func (svc *Service) UpdateProduct(ctx context.Context, id string, up UpdateProduct) (Product, error) {
	prod, err := svc.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if up.CategoryID != nil {
		if err := svc.checkCategory(ctx, up.CategoryID); err != nil {
			return Product{}, err
		}
		prod.CategoryID = null.NewString(*up.CategoryID, *up.CategoryID != "")
	}
	if up.Kind != nil {
		prod.Kind = *up.Kind
	}
	if up.Name != nil && *up.Name != "" {
		prod.Name = *up.Name
	}
	if up.Description != nil {
		prod.Description = core.CleanString(*up.Description)
	}
	if up.PriceCents != nil {
		prod.PriceCents = *up.PriceCents
	}
	if up.Currency != nil {
		prod.Currency = *up.Currency
	}
	if up.ClearStock {
		prod.Stock = null.Int{}
	} else if up.Stock != nil {
		prod.Stock = null.IntFrom(*up.Stock)
	}
	if up.IsActive != nil {
		prod.IsActive = *up.IsActive
	}
	prod.UpdatedAt = time.Now().UTC()

	prod, err = svc.repo.UpdateProduct(ctx, prod)
	if err != nil {
		return Product{}, err
	}
	svc.invalidate(ctx, id)
	svc.publish(ctx, EventProductUpdated, prod)
	return prod, nil
}

func (svc *Service) DeleteProduct(ctx context.Context, id string) error {
	prod, err := svc.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if err := svc.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	svc.invalidate(ctx, id)
	svc.publish(ctx, EventProductDeleted, prod)
	return nil
}

// Invalidate drops cached copies of the given products. Orders call it after stock changes.
func (svc *Service) Invalidate(ctx context.Context, ids ...string) {
	svc.invalidate(ctx, ids...)
}

func (svc *Service) invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productCacheKey(id))
	}
	if err := svc.cache.Delete(ctx, keys...); err != nil {
		svc.logger.Warn(fmt.Sprintf("catalog: invalidating cache: %v", err), err)
	}
}

func (svc *Service) publish(ctx context.Context, name string, prod Product) {
	event := core.NewEvent(name, prod.ID, map[string]interface{}{
		"id":          prod.ID,
		"kind":        prod.Kind,
		"name":        prod.Name,
		"price_cents": prod.PriceCents,
		"currency":    prod.Currency,
		"is_active":   prod.IsActive,
	})
	if err := svc.events.Publish(ctx, event); err != nil {
		svc.logger.Error(fmt.Sprintf("catalog: publishing %s: %v", name, err), err)
	}
}
