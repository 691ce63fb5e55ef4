package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/store"
)

func validIncident(id string) *events.Incident {
	return &events.Incident{
		ID:          id,
		Title:       "Brute force against ssh",
		Description: "Repeated failed logins",
		Severity:    "high",
		Status:      events.StatusDetected,
		Events: []events.SecurityEvent{
			{
				ID:       "evt-" + id,
				Type:     "brute_force_attempt",
				Severity: "high",
				Actor:    "mallory",
				Source:   events.EventSource{Type: "detector", Name: "auth-watch"},
			},
		},
	}
}

func TestIngestAndGetRoundTrip(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewIncidentRetriever(mem, 10, 10, zerolog.Nop())
	ctx := context.Background()

	inc := validIncident("INC-rt")
	require.NoError(t, r.Ingest(ctx, inc))

	got, err := r.Get(ctx, "INC-rt")
	require.NoError(t, err)
	assert.Equal(t, inc.Title, got.Title)
	assert.Equal(t, inc.Severity, got.Severity)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "brute_force_attempt", got.Events[0].Type)
	assert.Equal(t, "auth-watch", got.Events[0].Source.Name)
}

func TestIngestRejectsMalformedIncident(t *testing.T) {
	r := NewIncidentRetriever(store.NewMemoryStore(), 10, 10, zerolog.Nop())

	inc := validIncident("INC-bad")
	inc.Title = ""
	err := r.Ingest(context.Background(), inc)

	var verr *events.ValidationError
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr), "malformed incidents fail with a validation error")
	assert.Equal(t, "title", verr.Field)
}

func TestIngestRateLimitsPerSource(t *testing.T) {
	// Zero refill with burst 1: the second incident from the same source is
	// rejected, a different source is still admitted.
	r := NewIncidentRetriever(store.NewMemoryStore(), 0, 1, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, validIncident("INC-a")))
	assert.Error(t, r.Ingest(ctx, validIncident("INC-b")))

	other := validIncident("INC-c")
	other.Events[0].Source.Name = "netflow"
	assert.NoError(t, r.Ingest(ctx, other))
}

func TestGetMissingIncident(t *testing.T) {
	r := NewIncidentRetriever(store.NewMemoryStore(), 10, 10, zerolog.Nop())

	_, err := r.Get(context.Background(), "INC-nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	mem := store.NewMemoryStore()
	r := NewIncidentRetriever(mem, 10, 10, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, validIncident("INC-st")))
	require.NoError(t, r.UpdateStatus(ctx, "INC-st", events.StatusResolved))

	got, err := r.Get(ctx, "INC-st")
	require.NoError(t, err)
	assert.Equal(t, events.StatusResolved, got.Status)
}
