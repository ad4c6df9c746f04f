// Package worker provides async application processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker scores loan applications asynchronously from the EventBus.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	store *configstore.Store
	pipe  *pipeline.Pipeline

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// CompanyIDs is the list of companies to process (empty = all via wildcard if supported)
	CompanyIDs []string

	// WorkerCount is the number of concurrent workers per company
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, store *configstore.Store, pipe *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		store:  store,
		pipe:   pipe,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing applications for the given companies.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.CompanyIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, companyID := range cfg.CompanyIDs {
		if err := w.startCompanyWorker(companyID); err != nil {
			slog.Error("failed to start worker for company",
				"company_id", companyID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"company_count", len(cfg.CompanyIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all companies (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" company ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicApplicationReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startCompanyWorker starts workers for a specific company.
func (w *Worker) startCompanyWorker(companyID string) error {
	sub, err := w.bus.Subscribe(w.ctx, companyID, domain.TopicApplicationReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.processApplication(ctx, companyID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("company worker started",
		"company_id", companyID,
		"topic", domain.TopicApplicationReceived,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processApplication(ctx, msg.CompanyID, msg)
}

// ApplicationMessage is the message payload for async application scoring.
type ApplicationMessage struct {
	ApplicationID string           `json:"applicationId"`
	CompanyID     string           `json:"companyId"`
	PartnerID     string           `json:"partnerId,omitempty"`
	TraceID       string           `json:"traceId,omitempty"`
	Record        domain.RawRecord `json:"record"`
}

// processApplication scores one application through the pipeline.
func (w *Worker) processApplication(ctx context.Context, companyID string, msg *domain.Message) error {
	start := time.Now()

	var appMsg ApplicationMessage
	if err := json.Unmarshal(msg.Payload, &appMsg); err != nil {
		slog.Error("failed to parse application message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message company if provided
	if appMsg.CompanyID != "" {
		companyID = appMsg.CompanyID
	}

	traceID := appMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing application",
		"application_id", appMsg.ApplicationID,
		"company_id", companyID,
		"trace_id", traceID,
	)

	// 1. Load configuration snapshot
	snap, err := w.store.Snapshot(ctx, companyID, appMsg.PartnerID)
	if err != nil {
		slog.Error("failed to load scoring snapshot",
			"application_id", appMsg.ApplicationID,
			"company_id", companyID,
			"error", err,
		)
		return err
	}

	// 2. Score through the pipeline
	record, err := w.pipe.Evaluate(ctx, &pipeline.Input{
		CompanyID: companyID,
		PartnerID: appMsg.PartnerID,
		TraceID:   traceID,
		Raw:       appMsg.Record,
		Snapshot:  snap,
		StartTime: start,
	})
	if err != nil {
		slog.Error("scoring failed",
			"application_id", appMsg.ApplicationID,
			"company_id", companyID,
			"error", err,
		)
		return err
	}

	// 3. Persist the scored record
	if w.repo != nil {
		if err := w.repo.SaveScoredRecord(ctx, companyID, record); err != nil {
			slog.Error("failed to save scored record",
				"record_id", record.ID,
				"error", err,
			)
		}
	}

	// 4. Publish scored record and decision
	resultPayload, _ := json.Marshal(record)
	if err := w.bus.Publish(ctx, companyID, domain.TopicRecordScored, resultPayload); err != nil {
		slog.Error("failed to publish scored record",
			"record_id", record.ID,
			"error", err,
		)
	}
	if err := w.bus.Publish(ctx, companyID, domain.TopicDecision, resultPayload); err != nil {
		slog.Error("failed to publish decision",
			"record_id", record.ID,
			"error", err,
		)
	}

	// 5. Declines get their own topic for downstream notification
	if record.Decision != nil && record.Decision.Action == domain.ActionReject {
		if err := w.bus.Publish(ctx, companyID, domain.TopicDecline, resultPayload); err != nil {
			slog.Error("failed to publish decline",
				"record_id", record.ID,
				"error", err,
			)
		}
	}

	if degraded := record.DegradedReasons(); len(degraded) > 0 {
		slog.Debug("record scored with degraded inputs",
			"application_id", appMsg.ApplicationID,
			"company_id", companyID,
			"fields", degraded,
		)
	}

	slog.Info("application scored",
		"application_id", appMsg.ApplicationID,
		"company_id", companyID,
		"score", record.FinalScore,
		"action", record.Decision.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
