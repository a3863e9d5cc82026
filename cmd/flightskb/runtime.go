package main

import (
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/embedding"
	"github.com/flightskb/flightskb/internal/textindex"
	"github.com/flightskb/flightskb/internal/vectorstore"
)

func openStore(cfg *config.Config) vectorstore.Store {
	store, err := vectorstore.Open(cfg.Vector.Backend, cfg.Paths.IndexDir)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open vector store")
	}
	return store
}

func newEmbedder(cfg *config.Config) *embedding.Service {
	svc, err := embedding.NewService(&cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create embedding provider")
	}
	return svc
}

// openTextIndex opens the keyword index if it exists. Vector-only search
// still works without one.
func openTextIndex(cfg *config.Config) *textindex.Index {
	ix, err := textindex.Open(filepath.Join(cfg.Paths.IndexDir, "text"))
	if err != nil {
		log.Debug().Err(err).Msg("keyword index not available")
		return nil
	}
	return ix
}
