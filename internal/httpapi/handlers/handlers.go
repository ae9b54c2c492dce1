// Package handlers implements the HTTP endpoints of the api process. Every
// handler returns an error that the router renders through
// middleware.HandleError.
package handlers

import (
	"context"
	"time"

	"github.com/DrPeryCox/pres-gen-new/internal/deck"
	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/ports"
)

// Queue hands job ids to the workers. *queue.RedisQueue implements it.
type Queue interface {
	Push(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Store jobs.Store
	Queue Queue
	SP    ports.StorageProvider
	Deck  *deck.Builder
	Log   *logger.Logger

	// MaxUploadBytes caps the multipart body of POST /videos.
	MaxUploadBytes int64
	// DownloadURLTTL is the lifetime of signed download links.
	DownloadURLTTL time.Duration
	Version        string
}

type Handler struct {
	store jobs.Store
	queue Queue
	sp    ports.StorageProvider
	deck  *deck.Builder
	log   *logger.Logger

	maxUpload int64
	urlTTL    time.Duration
	version   string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	builder := d.Deck
	if builder == nil {
		builder = deck.NewBuilder(log)
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 1 << 30
	}
	ttl := d.DownloadURLTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		store:     d.Store,
		queue:     d.Queue,
		sp:        d.SP,
		deck:      builder,
		log:       log.WithComponent("api"),
		maxUpload: maxUpload,
		urlTTL:    ttl,
		version:   version,
	}
}
