package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/store"
	"rental-order-service/internal/util"

	"go.uber.org/zap"
)

// CatalogStore is the catalog read side of the store
type CatalogStore interface {
	GetMovieByID(ctx context.Context, id int64) (*models.Movie, error)
	GetBundleByID(ctx context.Context, id int64) (*models.Collection, error)
	GetSeriesByID(ctx context.Context, id int64) (*models.Collection, error)
	GetMoviesByBundle(ctx context.Context, bundleID int64) ([]models.Movie, error)
	GetMoviesBySeries(ctx context.Context, seriesID int64) ([]models.Movie, error)
}

// Cache stores JSON values with a TTL
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CatalogClient resolves purchasable items from the catalog tables (read-through cache)
type CatalogClient struct {
	store  CatalogStore
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogClient creates a new catalog client. cache may be nil.
func NewCatalogClient(store CatalogStore, cache Cache, ttl time.Duration) *CatalogClient {
	return &CatalogClient{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Resolve returns the titles, price and rental window of a purchasable item
func (cc *CatalogClient) Resolve(ctx context.Context, item models.PurchasableItem) (*models.Resolution, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.Resolve")
	defer span.End()

	key := "catalog:" + item.String()
	if cc.cache != nil {
		var cached models.Resolution
		found, err := cc.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			cc.logger.Warn("Catalog cache read failed, falling back to DB",
				zap.String("item", item.String()),
				zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	res, err := cc.resolveDB(ctx, item)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCatalogResolution, item, err)
		}
		return nil, err
	}

	if cc.cache != nil {
		if err := cc.cache.SetJSON(ctx, key, res, cc.ttl); err != nil {
			cc.logger.Warn("Catalog cache write failed",
				zap.String("item", item.String()),
				zap.Error(err))
		}
	}

	return res, nil
}

func (cc *CatalogClient) resolveDB(ctx context.Context, item models.PurchasableItem) (*models.Resolution, error) {
	switch item.Kind {
	case models.PurchaseSingle:
		movie, err := cc.store.GetMovieByID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		return &models.Resolution{
			Item:         item,
			TitleIDs:     []int64{movie.ID},
			UnitPrice:    movie.Price,
			RentalLength: time.Duration(movie.RentalLengthSeconds) * time.Second,
			StudioID:     movie.StudioID,
			Title:        movie.Title,
		}, nil

	case models.PurchaseBundle:
		bundle, err := cc.store.GetBundleByID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		movies, err := cc.store.GetMoviesByBundle(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bundle titles: %w", err)
		}
		res, err := collectionResolution(item, bundle, movies)
		if err != nil {
			return nil, err
		}
		res.BundleID = &bundle.ID
		return res, nil

	case models.PurchaseSeries:
		series, err := cc.store.GetSeriesByID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		movies, err := cc.store.GetMoviesBySeries(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get series titles: %w", err)
		}
		res, err := collectionResolution(item, series, movies)
		if err != nil {
			return nil, err
		}
		res.SeriesID = &series.ID
		return res, nil
	}

	return nil, fmt.Errorf("%w: unknown purchase kind %q", ErrCatalogResolution, item.Kind)
}

// collectionResolution uses the collection price for every title and the
// longest rental window among them.
func collectionResolution(item models.PurchasableItem, c *models.Collection, movies []models.Movie) (*models.Resolution, error) {
	if len(movies) == 0 {
		return nil, fmt.Errorf("%w: %s has no titles", ErrCatalogResolution, item)
	}

	res := &models.Resolution{
		Item:      item,
		TitleIDs:  make([]int64, 0, len(movies)),
		UnitPrice: c.Price,
		StudioID:  c.StudioID,
		Title:     c.Title,
	}
	for _, m := range movies {
		res.TitleIDs = append(res.TitleIDs, m.ID)
		if length := time.Duration(m.RentalLengthSeconds) * time.Second; length > res.RentalLength {
			res.RentalLength = length
		}
	}
	return res, nil
}
