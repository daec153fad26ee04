package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-order-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txQuerier{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// GetMovieByID retrieves a movie by ID
func (s *Store) GetMovieByID(ctx context.Context, id int64) (*models.Movie, error) {
	var movie models.Movie
	err := s.db.GetContext(ctx, &movie,
		`SELECT id, title, studio_id, price, rental_length_seconds, bundle_id, series_id
		 FROM movies WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "movie", id)
	}
	return &movie, nil
}

// GetBundleByID retrieves a bundle by ID
func (s *Store) GetBundleByID(ctx context.Context, id int64) (*models.Collection, error) {
	var bundle models.Collection
	err := s.db.GetContext(ctx, &bundle, "SELECT id, title, studio_id, price FROM bundles WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "bundle", id)
	}
	return &bundle, nil
}

// GetSeriesByID retrieves a series by ID
func (s *Store) GetSeriesByID(ctx context.Context, id int64) (*models.Collection, error) {
	var series models.Collection
	err := s.db.GetContext(ctx, &series, "SELECT id, title, studio_id, price FROM series WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "series", id)
	}
	return &series, nil
}

// GetMoviesByBundle retrieves every title of a bundle
func (s *Store) GetMoviesByBundle(ctx context.Context, bundleID int64) ([]models.Movie, error) {
	var movies []models.Movie
	err := s.db.SelectContext(ctx, &movies,
		`SELECT id, title, studio_id, price, rental_length_seconds, bundle_id, series_id
		 FROM movies WHERE bundle_id = $1 ORDER BY id`, bundleID)
	return movies, err
}

// GetMoviesBySeries retrieves every title of a series
func (s *Store) GetMoviesBySeries(ctx context.Context, seriesID int64) ([]models.Movie, error) {
	var movies []models.Movie
	err := s.db.SelectContext(ctx, &movies,
		`SELECT id, title, studio_id, price, rental_length_seconds, bundle_id, series_id
		 FROM movies WHERE series_id = $1 ORDER BY id`, seriesID)
	return movies, err
}

// GetStudioByID retrieves a studio by ID
func (s *Store) GetStudioByID(ctx context.Context, id int64) (*models.Studio, error) {
	var studio models.Studio
	err := s.db.GetContext(ctx, &studio,
		`SELECT id, name, currency_code, paypal_username, paypal_password, paypal_signature
		 FROM studios WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "studio", id)
	}
	return &studio, nil
}

// GetCouponByCode retrieves a coupon by its code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT id, code, percent FROM coupons WHERE code = $1", code)
	if err != nil {
		return nil, notFound(err, "coupon", code)
	}
	return &coupon, nil
}
