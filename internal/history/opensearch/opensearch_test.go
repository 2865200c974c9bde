package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devrun/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := New(srv.URL+"/", "devrun-history")
	evt := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{RunID: "r1", Name: "web", PID: 55, StartedAt: time.Now().UTC()},
	}
	require.NoError(t, sink.Send(context.Background(), evt))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/devrun-history/_doc/r1-start", gotPath)
	var decoded history.Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, history.EventStart, decoded.Type)
	assert.Equal(t, "web", decoded.Record.Name)
	assert.Equal(t, 55, decoded.Record.PID)
}

func TestOpenSearchSink_NoRunIDPosts(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	evt := history.Event{Type: history.EventExit, Record: history.Record{Name: "api"}}
	require.NoError(t, New(srv.URL, "idx").Send(context.Background(), evt))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/idx/_doc", gotPath)
}

func TestOpenSearchSink_ResentEventKeepsDocumentID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, "idx")
	evt := history.Event{Type: history.EventStop, Record: history.Record{RunID: "r9", Name: "web"}}
	require.NoError(t, sink.Send(context.Background(), evt))
	require.NoError(t, sink.Send(context.Background(), evt))
	assert.Equal(t, []string{"/idx/_doc/r9-stop", "/idx/_doc/r9-stop"}, paths)
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"mapper_parsing_exception"}`)
	}))
	defer srv.Close()

	err := New(srv.URL, "idx").Send(context.Background(), history.Event{Type: history.EventStop, Record: history.Record{Name: "web"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Contains(t, err.Error(), "web")
}
