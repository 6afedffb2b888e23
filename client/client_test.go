package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "exchange", r.URL.Query().Get("category"))
		assert.Equal(t, "ATLASUSDC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"events": []map[string]interface{}{
				{"signature": "sig1", "category": "exchange", "symbol": "ATLASUSDC", "size": 5, "price": 100, "data": []interface{}{}},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	events, err := client.List(context.Background(), EventsQuery{Category: "exchange", Symbol: "ATLASUSDC", Limit: 5})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sig1", events[0].Signature)
	require.NotNil(t, events[0].Size)
	assert.Equal(t, int64(5), *events[0].Size)
}

func TestList_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": `unknown category "swap"`})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.List(context.Background(), EventsQuery{Category: "swap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestCursor_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cursor", r.URL.Path)
		assert.Equal(t, "gm-react", r.URL.Query().Get("name"))
		json.NewEncoder(w).Encode(map[string]interface{}{"name": "gm-react", "before": "", "until": "newest"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	cur, err := client.Cursor(context.Background(), "gm-react")
	require.NoError(t, err)
	assert.Equal(t, "newest", cur.Until)
}

func TestSymbolsAndResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "" {
			json.NewEncoder(w).Encode(Pair{Symbol: "ATLASUSDC", BaseMint: r.URL.Query().Get("base"), QuoteMint: r.URL.Query().Get("quote")})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbols": []Pair{{Symbol: "ATLASUSDC", BaseMint: "a", QuoteMint: "u"}},
			"count":   1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	pairs, err := client.Symbols(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	symbol, err := client.Resolve(context.Background(), "a", "u")
	require.NoError(t, err)
	assert.Equal(t, "ATLASUSDC", symbol)
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	healthy = false
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestClient_Await_MatchingEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/events/exchange", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		w.Write([]byte("event: connected\ndata: {\"category\":\"exchange\"}\n\n"))
		for _, ev := range []Event{
			{Signature: "other", Category: "exchange", Symbol: "POLISUSDC"},
			{Signature: "wanted", Category: "exchange", Symbol: "ATLASUSDC"},
		} {
			data, _ := json.Marshal(ev)
			w.Write([]byte("event: exchange\ndata: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := client.Await(ctx, "exchange", func(e *Event) bool {
		return e.Symbol == "ATLASUSDC"
	})
	require.NoError(t, err)
	assert.Equal(t, "wanted", ev.Signature)
}

func TestClient_Await_StreamClosesWithoutMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(": keepalive\n\nevent: cancel\ndata: {\"signature\":\"x\",\"category\":\"cancel\"}\n\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Await(context.Background(), "", func(e *Event) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream closed")
}

func TestClient_Await_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Await(ctx, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
