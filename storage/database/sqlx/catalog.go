package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/storage/database"
)

var (
	categoryColumns = []string{"id", "name", "slug", "created_at", "updated_at"}
	productColumns  = []string{
		"id", "category_id", "kind", "name", "description", "price_cents",
		"currency", "stock", "is_active", "created_at", "updated_at",
	}
)

type CatalogRepository struct {
	db core.DB
}

var _ catalog.Repository = (*CatalogRepository)(nil)

func NewCatalogRepository(db core.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (repo *CatalogRepository) CreateCategory(ctx context.Context, cat catalog.Category) (catalog.Category, error) {
	cat.ID = uuid.NewString()
	b := psql.Insert("categories").Columns(categoryColumns...).
		Values(cat.ID, cat.Name, cat.Slug, cat.CreatedAt, cat.UpdatedAt)
	if _, err := exec(ctx, repo.db, b); err != nil {
		if database.IsUniqueViolation(err, "categories_slug_key") {
			return catalog.Category{}, catalog.ErrSlugExists
		}
		return catalog.Category{}, errors.Wrap(err, "inserting category")
	}
	return cat, nil
}

func (repo *CatalogRepository) QueryCategories(ctx context.Context) ([]catalog.Category, error) {
	var cats []catalog.Category
	b := psql.Select(categoryColumns...).From("categories").OrderBy("name ASC")
	if err := selectAll(ctx, repo.db, &cats, b); err != nil {
		return nil, errors.Wrap(err, "querying categories")
	}
	return cats, nil
}

func (repo *CatalogRepository) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	if !isUUID(id) {
		return catalog.Category{}, catalog.ErrCategoryNotFound
	}
	var cat catalog.Category
	b := psql.Select(categoryColumns...).From("categories").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.db, &cat, b); err != nil {
		return catalog.Category{}, trapNoRows(err, catalog.ErrCategoryNotFound, "getting category")
	}
	return cat, nil
}

func (repo *CatalogRepository) UpdateCategory(ctx context.Context, cat catalog.Category) (catalog.Category, error) {
	b := psql.Update("categories").
		Set("name", cat.Name).
		Set("slug", cat.Slug).
		Set("updated_at", cat.UpdatedAt).
		Where(sq.Eq{"id": cat.ID})
	res, err := exec(ctx, repo.db, b)
	if err != nil {
		if database.IsUniqueViolation(err, "categories_slug_key") {
			return catalog.Category{}, catalog.ErrSlugExists
		}
		return catalog.Category{}, errors.Wrap(err, "updating category")
	}
	return cat, affected(res, catalog.ErrCategoryNotFound)
}

func (repo *CatalogRepository) DeleteCategory(ctx context.Context, id string) error {
	if !isUUID(id) {
		return catalog.ErrCategoryNotFound
	}
	res, err := exec(ctx, repo.db, psql.Delete("categories").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting category")
	}
	return affected(res, catalog.ErrCategoryNotFound)
}

func (repo *CatalogRepository) CreateProduct(ctx context.Context, prod catalog.Product) (catalog.Product, error) {
	prod.ID = uuid.NewString()
	b := psql.Insert("products").Columns(productColumns...).Values(
		prod.ID, prod.CategoryID, prod.Kind, prod.Name, prod.Description, prod.PriceCents,
		prod.Currency, prod.Stock, prod.IsActive, prod.CreatedAt, prod.UpdatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		return catalog.Product{}, errors.Wrap(err, "inserting product")
	}
	return prod, nil
}

func (repo *CatalogRepository) QueryProducts(ctx context.Context, filter *catalog.QueryFilter, ordering []core.DBOrdering) ([]catalog.Product, error) {
	b := psql.Select(productColumns...).From("products")
	if filter != nil {
		if filter.Search != "" {
			like := "%" + filter.Search + "%"
			b = b.Where(sq.Or{sq.ILike{"name": like}, sq.ILike{"description": like}})
		}
		if filter.Kind != "" {
			b = b.Where(sq.Eq{"kind": filter.Kind})
		}
		if filter.CategoryID != "" {
			b = b.Where(sq.Eq{"category_id": filter.CategoryID})
		}
		if filter.IsActive != nil {
			b = b.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.MinPrice != nil {
			b = b.Where(sq.GtOrEq{"price_cents": *filter.MinPrice})
		}
		if filter.MaxPrice != nil {
			b = b.Where(sq.LtOrEq{"price_cents": *filter.MaxPrice})
		}
	}
	b = orderBy(b, ordering, "name ASC")

	var prods []catalog.Product
	if err := selectAll(ctx, repo.db, &prods, b); err != nil {
		return nil, errors.Wrap(err, "querying products")
	}
	return prods, nil
}

func (repo *CatalogRepository) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	if !isUUID(id) {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	var prod catalog.Product
	b := psql.Select(productColumns...).From("products").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.db, &prod, b); err != nil {
		return catalog.Product{}, trapNoRows(err, catalog.ErrProductNotFound, "getting product")
	}
	return prod, nil
}

func (repo *CatalogRepository) GetProductsByID(ctx context.Context, ids ...string) ([]catalog.Product, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	var prods []catalog.Product
	b := psql.Select(productColumns...).From("products").Where(sq.Eq{"id": valid})
	if err := selectAll(ctx, repo.db, &prods, b); err != nil {
		return nil, errors.Wrap(err, "getting products")
	}
	return prods, nil
}

func (repo *CatalogRepository) UpdateProduct(ctx context.Context, prod catalog.Product) (catalog.Product, error) {
	b := psql.Update("products").SetMap(map[string]interface{}{
		"category_id": prod.CategoryID,
		"kind":        prod.Kind,
		"name":        prod.Name,
		"description": prod.Description,
		"price_cents": prod.PriceCents,
		"currency":    prod.Currency,
		"stock":       prod.Stock,
		"is_active":   prod.IsActive,
		"updated_at":  prod.UpdatedAt,
	}).Where(sq.Eq{"id": prod.ID})
	res, err := exec(ctx, repo.db, b)
	if err != nil {
		return catalog.Product{}, errors.Wrap(err, "updating product")
	}
	return prod, affected(res, catalog.ErrProductNotFound)
}

func (repo *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	if !isUUID(id) {
		return catalog.ErrProductNotFound
	}
	res, err := exec(ctx, repo.db, psql.Delete("products").Where(sq.Eq{"id": id}))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return catalog.ErrProductInUse
		}
		return errors.Wrap(err, "deleting product")
	}
	return affected(res, catalog.ErrProductNotFound)
}
