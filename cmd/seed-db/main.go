// Command seed-db upserts catalog fixtures (customers and products) into the
// order store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/fixture"
	"github.com/xenking/kart-orders/internal/storage/mysql"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

// upserter writes fixtures into one storage driver.
type upserter interface {
	UpsertCustomer(ctx context.Context, c customer.Customer) error
	UpsertProduct(ctx context.Context, p product.Product) error
}

type mysqlUpserter struct {
	*mysql.CustomerRepository
	products *mysql.ProductRepository
}

func (u mysqlUpserter) UpsertProduct(ctx context.Context, p product.Product) error {
	return u.products.UpsertProduct(ctx, p)
}

func main() {
	var (
		driver      string
		databaseURL string
		fixtureFile string
		workers     int
	)

	flag.StringVar(&driver, "driver", "postgres", "storage driver: postgres or mysql")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL URL or MySQL DSN (or DATABASE_URL env)")
	flag.StringVar(&fixtureFile, "fixtures", "db/seed/catalog.json", "path to catalog fixture (.json or .json.gz)")
	flag.IntVar(&workers, "workers", 8, "parallel upserts")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if workers < 1 {
		workers = 1
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, driver, databaseURL, fixtureFile, workers); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, driver, databaseURL, fixtureFile string, workers int) error {
	slog.Info("reading fixtures", slog.String("path", fixtureFile))

	set, err := fixture.Load(fixtureFile)
	if err != nil {
		return errors.Wrap(err, "read fixtures")
	}

	slog.Info("connecting to database", slog.String("driver", driver))

	var target upserter
	switch driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		target = postgres.NewSeeder(pool)
	case "mysql":
		db, err := mysql.Open(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer func() { _ = db.Close() }()

		if err := mysql.RunMigrations(ctx, db); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		target = mysqlUpserter{
			CustomerRepository: mysql.NewCustomerRepository(db),
			products:           mysql.NewProductRepository(db),
		}
	default:
		return errors.Errorf("unknown driver %q", driver)
	}

	// Orders reference customers, so customers go first.
	if err := seedCustomers(ctx, target, set.Customers, workers); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedProducts(ctx, target, set.Products, workers); err != nil {
		return errors.Wrap(err, "seed products")
	}
	return nil
}

func seedCustomers(ctx context.Context, target upserter, customers []customer.Customer, workers int) error {
	slog.Info("upserting customers", slog.Int("count", len(customers)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range customers {
		g.Go(func() error {
			if err := target.UpsertCustomer(ctx, c); err != nil {
				return errors.Wrapf(err, "upsert customer %s", c.ID)
			}
			slog.Debug("upserted customer", slog.String("id", c.ID))
			return nil
		})
	}
	return g.Wait()
}

func seedProducts(ctx context.Context, target upserter, products []product.Product, workers int) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range products {
		g.Go(func() error {
			if err := target.UpsertProduct(ctx, p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			slog.Info("upserted product",
				slog.String("id", p.ID),
				slog.String("name", p.Name),
				slog.Int("quantity", p.Quantity),
			)
			return nil
		})
	}
	return g.Wait()
}
