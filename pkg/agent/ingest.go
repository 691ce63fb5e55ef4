package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/store"
)

// IncidentRetriever validates and persists incoming incidents and serves
// point reads. Each reporting source gets its own token bucket so one noisy
// detector cannot starve ingestion for the rest.
type IncidentRetriever struct {
	store  store.Store
	logger zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewIncidentRetriever creates an ingestion front over the store admitting up
// to perSecond incidents per source with the given burst.
func NewIncidentRetriever(s store.Store, perSecond float64, burst int, logger zerolog.Logger) *IncidentRetriever {
	return &IncidentRetriever{
		store:    s,
		logger:   logger.With().Str("component", "incident_retriever").Logger(),
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSecond),
		burst:    burst,
	}
}

func (r *IncidentRetriever) limiterFor(source string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[source]
	if !ok {
		l = rate.NewLimiter(r.perSec, r.burst)
		r.limiters[source] = l
	}
	return l
}

// Ingest validates the incident and writes it to the store. Validation
// failures surface as *events.ValidationError so callers can distinguish a
// malformed incident from a store outage. A source over its rate is rejected,
// not queued.
func (r *IncidentRetriever) Ingest(ctx context.Context, inc *events.Incident) error {
	if err := inc.Validate(); err != nil {
		r.logger.Warn().Err(err).Str("incident_id", inc.ID).Msg("Rejected malformed incident")
		return err
	}

	source := "unknown"
	if len(inc.Events) > 0 && inc.Events[0].Source.Name != "" {
		source = inc.Events[0].Source.Name
	}
	if !r.limiterFor(source).Allow() {
		return fmt.Errorf("ingestion rate exceeded for source %q", source)
	}

	if err := r.store.Put(ctx, store.CollectionIncidents, inc.ID, store.Document(inc.Document())); err != nil {
		return fmt.Errorf("persisting incident %s: %w", inc.ID, err)
	}
	r.logger.Info().Str("incident_id", inc.ID).Str("source", source).Str("severity", inc.Severity).Msg("Incident ingested")
	return nil
}

// Get loads an incident by id. store.ErrNotFound passes through unchanged.
func (r *IncidentRetriever) Get(ctx context.Context, id string) (*events.Incident, error) {
	doc, err := r.store.Get(ctx, store.CollectionIncidents, id)
	if err != nil {
		return nil, err
	}
	return events.IncidentFromDocument(doc)
}

// UpdateStatus transitions a stored incident's lifecycle status.
func (r *IncidentRetriever) UpdateStatus(ctx context.Context, id string, status events.IncidentStatus) error {
	doc, err := r.store.Get(ctx, store.CollectionIncidents, id)
	if err != nil {
		return err
	}
	doc["status"] = string(status)
	return r.store.Put(ctx, store.CollectionIncidents, id, doc)
}
