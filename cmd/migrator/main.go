// Package main implements the legacy attempt migrator: a one-shot batch job
// that moves historical assessment submissions from the legacy warehouse into
// the platform database and object store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmark/migrate-core/internal/blob"
	"github.com/openmark/migrate-core/internal/config"
	"github.com/openmark/migrate-core/internal/manifest"
	"github.com/openmark/migrate-core/internal/output"
	"github.com/openmark/migrate-core/internal/refdata"
	"github.com/openmark/migrate-core/internal/runner"
	"github.com/openmark/migrate-core/internal/transform"
	"github.com/openmark/migrate-core/internal/warehouse"
	"github.com/openmark/migrate-core/internal/writer"
)

func main() {
	var (
		configPath   = flag.String("config", "", "optional YAML config file")
		manifestPath = flag.String("manifest", "", "submission-file manifest CSV")
		mappingsPath = flag.String("mappings", "", "attempt-to-course mapping CSV")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *manifestPath == "" || *mappingsPath == "" {
		log.Fatal("both -manifest and -mappings are required")
	}

	// Everything up to the pool start is a startup precondition: any failure
	// here exits non-zero before a single record is touched.
	mf, err := os.Open(*manifestPath)
	if err != nil {
		log.Fatalf("open manifest: %v", err)
	}
	m, err := manifest.ParseManifest(mf)
	mf.Close()
	if err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	mpf, err := os.Open(*mappingsPath)
	if err != nil {
		log.Fatalf("open mappings: %v", err)
	}
	mappings, err := manifest.ParseAttemptMappings(mpf)
	mpf.Close()
	if err != nil {
		log.Fatalf("parse mappings: %v", err)
	}

	// Graceful shutdown: stop handing out new records, let in-flight ones
	// finish on their own terms.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("connect destination database: %v", err)
	}
	defer pool.Close()

	catalog, err := refdata.Load(ctx, pool)
	if err != nil {
		log.Fatalf("load reference data: %v", err)
	}
	log.Printf("reference data: %d assessments, %d malpractice levels, system actor %d",
		len(catalog.Assessments), len(catalog.MalpracticeLevels), catalog.SystemActorID)

	wh, err := warehouse.Open(ctx, cfg.WarehouseDSN, warehouse.Options{
		MaxConns:         cfg.Workers * cfg.WarehouseConnsPerWorker,
		QueriesPerSecond: cfg.WarehouseQueryRate,
	})
	if err != nil {
		log.Fatalf("connect warehouse: %v", err)
	}
	defer wh.Close()

	store, err := blob.NewStore(blob.StoreConfig{
		EndpointURL:     cfg.BlobEndpointURL,
		AccessKeyID:     cfg.BlobAccessKeyID,
		SecretAccessKey: cfg.BlobSecretAccessKey,
		Region:          cfg.BlobRegion,
		UseSSL:          cfg.BlobUseSSL,
	})
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("blob store unreachable: %v", err)
	}
	if err := store.EnsureBucket(ctx, cfg.BlobBucket); err != nil {
		log.Fatalf("ensure bucket %s: %v", cfg.BlobBucket, err)
	}

	dest := writer.New(pool, catalog.SystemActorID)
	pipeline := &runner.Pipeline{
		Transformer: &transform.Transformer{
			Mappings:       mappings,
			Catalog:        catalog,
			Warehouse:      wh,
			Probe:          dest,
			CohortPrefixes: cfg.CohortPrefixes,
		},
		Relocator: &blob.Relocator{
			Store:            store,
			Download:         blob.NewHTTPDownloader(),
			Bucket:           cfg.BlobBucket,
			SourceHostPrefix: cfg.SourceHostPrefix,
		},
		Writer: dest,
	}

	out := output.New(cfg.MigratedLogPath, cfg.FailedLogPath, m.Header)
	out.SetTotal(len(m.Records))
	out.Start(ctx, cfg.FlushInterval, cfg.ProgressInterval)

	log.Printf("migrating %d records with %d workers", len(m.Records), cfg.Workers)
	execPool := &runner.Pool{Workers: cfg.Workers, Process: pipeline.ProcessRecord}
	totals := execPool.Run(ctx, m.Records, out.Consume)

	out.Close()
	out.Summary(totals)
	// Per-record failures are recorded in the failed log, not the exit code.
}
