package transport

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-ai/calliope/internal/chain"
	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/docjob"
	"github.com/calliope-ai/calliope/internal/provider"
	"github.com/calliope-ai/calliope/internal/storage"
)

// Handler holds the HTTP handlers and their collaborators.
type Handler struct {
	engine    *chain.Engine
	registry  *provider.Registry
	store     storage.Store
	documents *docjob.Service
	jobs      *jobRunner
	limiter   *StreamLimiter
	streaming config.StreamingConfig
	logger    *slog.Logger
}

// NewHandler wires the transport layer.
func NewHandler(
	engine *chain.Engine,
	registry *provider.Registry,
	store storage.Store,
	documents *docjob.Service,
	streaming config.StreamingConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		engine:    engine,
		registry:  registry,
		store:     store,
		documents: documents,
		jobs:      newJobRunner(engine, store, streaming.JobRetention, logger),
		limiter:   NewStreamLimiter(streaming.MaxConcurrentPerUser),
		streaming: streaming,
		logger:    logger,
	}
}

// Routes mounts all transport routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/stream", h.StreamChain)
		r.Post("/chat/compare", h.Compare)

		r.Post("/chat/jobs", h.CreateChainJob)
		r.Get("/chat/jobs/{jobID}", h.PollChainJob)
		r.Delete("/chat/jobs/{jobID}", h.CancelChainJob)

		r.Get("/executions/{executionID}", h.GetExecution)
		r.Get("/executions/{executionID}/events", h.ListExecutionEvents)

		if h.documents != nil {
			r.Post("/documents/upload/initiate", h.InitiateUpload)
			r.Post("/documents/upload/confirm", h.ConfirmUpload)
			r.Get("/documents/jobs/{jobID}", h.DocumentJobStatus)
			r.Get("/documents/jobs/{jobID}/result", h.DocumentJobResult)
			r.Delete("/documents/jobs/{jobID}", h.CancelDocumentJob)
		}
	})
}
