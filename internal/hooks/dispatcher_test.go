package hooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwood-builders/attribution/internal/config"
)

func TestDispatcher_DeliversToBothEndpoints(t *testing.T) {
	var mu sync.Mutex
	received := map[string][]Event{}

	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var event Event
			require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
			mu.Lock()
			received[name] = append(received[name], event)
			mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		}
	}
	journal := httptest.NewServer(handler("journal"))
	defer journal.Close()
	summary := httptest.NewServer(handler("summary"))
	defer summary.Close()

	d := NewDispatcher(config.HooksConfig{
		JournalExtractURL: journal.URL,
		SummaryURL:        summary.URL,
		QueueSize:         8,
		TimeoutSecs:       5,
	})

	d.SpanAttributed("span-1", "int-1", "proj-a")
	d.SpanAttributed("span-2", "int-2", "proj-b")
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received["journal"], 2)
	require.Len(t, received["summary"], 2)
	assert.Equal(t, "span-1", received["journal"][0].SpanID)
	assert.Equal(t, "proj-a", received["journal"][0].ProjectID)
	assert.Equal(t, "int-2", received["summary"][1].InteractionID)
}

func TestDispatcher_FailedEndpointDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(config.HooksConfig{
		JournalExtractURL: srv.URL,
		QueueSize:         2,
		TimeoutSecs:       5,
	})

	d.SpanAttributed("span-1", "int-1", "proj-a")
	d.Close()
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	// No worker consumption happens for unroutable URLs fast enough to
	// matter; the point is that SpanAttributed returns immediately.
	d := NewDispatcher(config.HooksConfig{QueueSize: 1, TimeoutSecs: 1})
	for i := 0; i < 100; i++ {
		d.SpanAttributed("span", "int", "proj")
	}
	d.Close()
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(config.HooksConfig{QueueSize: 1, TimeoutSecs: 1})
	d.Close()
	d.Close()
}

func TestDispatcher_SendAfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(config.HooksConfig{QueueSize: 1, TimeoutSecs: 1})
	d.Close()
	d.SpanAttributed("span-1", "int-1", "proj-a")
	d.Close()
}
