package inmemdb

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
)

type CatalogRepository struct {
	db *DB
}

var _ catalog.Repository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (repo *CatalogRepository) slugTaken(slug, exceptID string) bool {
	for _, c := range repo.db.categories {
		if c.Slug == slug && c.ID != exceptID {
			return true
		}
	}
	return false
}

func (repo *CatalogRepository) CreateCategory(_ context.Context, cat catalog.Category) (catalog.Category, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.slugTaken(cat.Slug, "") {
		return catalog.Category{}, catalog.ErrSlugExists
	}
	cat.ID = newID()
	repo.db.categories[cat.ID] = cat
	return cat, nil
}

func (repo *CatalogRepository) QueryCategories(_ context.Context) ([]catalog.Category, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	cats := make([]catalog.Category, 0, len(repo.db.categories))
	for _, c := range repo.db.categories {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

func (repo *CatalogRepository) GetCategory(_ context.Context, id string) (catalog.Category, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.categories[id]; ok {
		return c, nil
	}
	return catalog.Category{}, catalog.ErrCategoryNotFound
}

func (repo *CatalogRepository) UpdateCategory(_ context.Context, cat catalog.Category) (catalog.Category, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.categories[cat.ID]; !ok {
		return catalog.Category{}, catalog.ErrCategoryNotFound
	}
	if repo.slugTaken(cat.Slug, cat.ID) {
		return catalog.Category{}, catalog.ErrSlugExists
	}
	repo.db.categories[cat.ID] = cat
	return cat, nil
}

// DeleteCategory detaches the category's products.
func (repo *CatalogRepository) DeleteCategory(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.categories[id]; !ok {
		return catalog.ErrCategoryNotFound
	}
	delete(repo.db.categories, id)
	for pid, p := range repo.db.products {
		if p.CategoryID.String == id {
			p.CategoryID = null.String{}
			repo.db.products[pid] = p
		}
	}
	return nil
}

func (repo *CatalogRepository) CreateProduct(_ context.Context, prod catalog.Product) (catalog.Product, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	prod.ID = newID()
	repo.db.products[prod.ID] = prod
	return prod, nil
}

func (repo *CatalogRepository) QueryProducts(_ context.Context, filter *catalog.QueryFilter, _ []core.DBOrdering) ([]catalog.Product, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	prods := make([]catalog.Product, 0, len(repo.db.products))
	for _, p := range repo.db.products {
		if filter != nil {
			if filter.Search != "" && !containsFold(p.Name, filter.Search) && !containsFold(p.Description, filter.Search) {
				continue
			}
			if filter.Kind != "" && p.Kind != filter.Kind {
				continue
			}
			if filter.CategoryID != "" && p.CategoryID.String != filter.CategoryID {
				continue
			}
			if filter.IsActive != nil && p.IsActive != *filter.IsActive {
				continue
			}
			if filter.MinPrice != nil && p.PriceCents < *filter.MinPrice {
				continue
			}
			if filter.MaxPrice != nil && p.PriceCents > *filter.MaxPrice {
				continue
			}
		}
		prods = append(prods, p)
	}
	sort.Slice(prods, func(i, j int) bool { return prods[i].Name < prods[j].Name })
	return prods, nil
}

func (repo *CatalogRepository) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.products[id]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

// GetProductsByID skips unknown IDs.
func (repo *CatalogRepository) GetProductsByID(_ context.Context, ids ...string) ([]catalog.Product, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	prods := make([]catalog.Product, 0, len(ids))
	for _, id := range core.UniqueStrings(ids) {
		if p, ok := repo.db.products[id]; ok {
			prods = append(prods, p)
		}
	}
	return prods, nil
}

func (repo *CatalogRepository) UpdateProduct(_ context.Context, prod catalog.Product) (catalog.Product, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.products[prod.ID]; !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	repo.db.products[prod.ID] = prod
	return prod, nil
}

func (repo *CatalogRepository) productInUse(id string) bool {
	for _, o := range repo.db.orders {
		for _, it := range o.Items {
			if it.ProductID == id {
				return true
			}
		}
	}
	for _, c := range repo.db.clubCourses {
		if c.ProductID.String == id {
			return true
		}
	}
	return false
}

func (repo *CatalogRepository) DeleteProduct(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.products[id]; !ok {
		return catalog.ErrProductNotFound
	}
	if repo.productInUse(id) {
		return catalog.ErrProductInUse
	}
	delete(repo.db.products, id)
	return nil
}
