package main

import (
	"net/http"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/config"
	"github.com/ahmethakanbesel/cryptoprices/internal/couchdb"
	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
	"github.com/ahmethakanbesel/cryptoprices/internal/platform/sqlite"
	pricerepo "github.com/ahmethakanbesel/cryptoprices/internal/repository/price"
	runrepo "github.com/ahmethakanbesel/cryptoprices/internal/repository/run"
	"github.com/ahmethakanbesel/cryptoprices/internal/view"
)

func couchStore(cfg *config.Config) *couchdb.Client {
	u := cfg.Upstream
	return couchdb.New(u.URL,
		couchdb.WithClient(&http.Client{Timeout: time.Duration(u.TimeoutSeconds) * time.Second}),
		couchdb.WithView(u.Database, u.Design, u.View),
		couchdb.WithCredentials(u.User, u.Password),
		couchdb.WithUpdate(u.Update),
		couchdb.WithRetries(u.Retries, 0),
	)
}

func newPager(cfg *config.Config, store view.Store) *view.Pager {
	return view.NewPager(store,
		view.WithPageSize(cfg.Upstream.PageSize),
		view.WithKeyUnit(cfg.Upstream.KeyUnitSeconds),
	)
}

type mirrorDB struct {
	*sqlite.DB
	prices *pricerepo.Repository
	runs   *runrepo.Repository
}

func openMirror(cfg *config.Config) (*mirrorDB, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return &mirrorDB{
		DB:     db,
		prices: pricerepo.NewRepository(db.DB),
		runs:   runrepo.NewRepository(db.DB),
	}, nil
}

// syncer copies from CouchDB into this mirror, whatever backend serves reads.
func (m *mirrorDB) syncer(cfg *config.Config, opts ...mirror.SyncerOption) *mirror.Syncer {
	return mirror.NewSyncer(newPager(cfg, couchStore(cfg)), m.prices, m.runs, cfg.Mirror.Workers, opts...)
}
