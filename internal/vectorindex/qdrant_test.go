package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestQdrant(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *Qdrant {
	t.Helper()
	return &Qdrant{
		log:     newTestLogger(t),
		cfg:     QdrantConfig{Collection: "paperplanet_chunks", VectorDim: 3},
		baseURL: "http://qdrant.local",
		http:    &http.Client{Transport: roundTripFunc(roundTrip)},
	}
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func TestQdrantUpsertRequestShape(t *testing.T) {
	docID := uuid.New()
	e := Entry{ID: uuid.New(), Text: "chunk text", Vector: []float32{1, 2, 3}}

	var captured map[string]any
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/paperplanet_chunks/points" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: got=%q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	if err := s.Add(context.Background(), docID, e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points: %v", captured["points"])
	}
	point := points[0].(map[string]any)
	if point["id"] != s.pointID(docID, e.ID) {
		t.Fatalf("point id: got=%v", point["id"])
	}
	payload := point["payload"].(map[string]any)
	if payload[payloadDocumentKey] != docID.String() {
		t.Errorf("payload document: got=%v", payload[payloadDocumentKey])
	}
	if payload[payloadEntryIDKey] != e.ID.String() {
		t.Errorf("payload entry id: got=%v", payload[payloadEntryIDKey])
	}
	if payload[payloadTextKey] != "chunk text" {
		t.Errorf("payload text: got=%v", payload[payloadTextKey])
	}
}

func TestQdrantQueryFiltersByDocumentAndConvertsScore(t *testing.T) {
	docID := uuid.New()
	hitID := uuid.New()

	var captured map[string]any
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/paperplanet_chunks/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{
				"id":    "point-id",
				"score": 0.75,
				"payload": map[string]any{
					payloadEntryIDKey: hitID.String(),
					payloadTextKey:    "matched chunk",
				},
			},
		}), nil
	})

	matches, err := s.Query(context.Background(), docID, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches: %d", len(matches))
	}
	if matches[0].ID != hitID || matches[0].Text != "matched chunk" {
		t.Errorf("match: %+v", matches[0])
	}
	// Cosine similarity 0.75 becomes distance 0.25.
	if d := matches[0].Distance; d < 0.2499 || d > 0.2501 {
		t.Errorf("distance: got=%v want=0.25", d)
	}

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != payloadDocumentKey {
		t.Errorf("filter key: %v", cond["key"])
	}
	match := cond["match"].(map[string]any)
	if match["value"] != docID.String() {
		t.Errorf("filter value: %v", match["value"])
	}
}

func TestQdrantReplaceUpsertsBeforeSweep(t *testing.T) {
	docID := uuid.New()
	entries := []Entry{
		{ID: uuid.New(), Text: "first", Vector: []float32{1, 0, 0}},
		{ID: uuid.New(), Text: "second", Vector: []float32{0, 1, 0}},
	}

	type call struct {
		method string
		path   string
		body   map[string]any
	}
	var calls []call
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		calls = append(calls, call{method: r.Method, path: r.URL.Path, body: body})
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	if err := s.Replace(context.Background(), docID, entries); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls: %d, want upsert then delete", len(calls))
	}

	// The new run lands before anything is removed, so a concurrent reader
	// never sees an empty document.
	if calls[0].method != http.MethodPut || calls[0].path != "/collections/paperplanet_chunks/points" {
		t.Fatalf("first call: %s %s", calls[0].method, calls[0].path)
	}
	if calls[1].method != http.MethodPost || calls[1].path != "/collections/paperplanet_chunks/points/delete" {
		t.Fatalf("second call: %s %s", calls[1].method, calls[1].path)
	}

	points := calls[0].body["points"].([]any)
	if len(points) != 2 {
		t.Fatalf("points: %d", len(points))
	}
	runID, _ := points[0].(map[string]any)["payload"].(map[string]any)[payloadRunKey].(string)
	if runID == "" {
		t.Fatal("upserted points carry no run id")
	}

	filter := calls[1].body["filter"].(map[string]any)
	must := filter["must"].([]any)[0].(map[string]any)
	if must["key"] != payloadDocumentKey || must["match"].(map[string]any)["value"] != docID.String() {
		t.Fatalf("sweep must clause: %v", must)
	}
	mustNot := filter["must_not"].([]any)[0].(map[string]any)
	if mustNot["key"] != payloadRunKey || mustNot["match"].(map[string]any)["value"] != runID {
		t.Fatalf("sweep must_not clause: %v", mustNot)
	}
}

func TestQdrantReplaceEmptyDropsDocument(t *testing.T) {
	docID := uuid.New()
	var paths []string
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	if err := s.Replace(context.Background(), docID, nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/collections/paperplanet_chunks/points/delete" {
		t.Fatalf("paths: %v", paths)
	}
}

func TestQdrantDimensionChecked(t *testing.T) {
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected on dimension mismatch")
		return nil, nil
	})

	var dimErr *DimensionError
	if err := s.Add(context.Background(), uuid.New(), Entry{ID: uuid.New(), Vector: []float32{1}}); err == nil {
		t.Fatal("expected dimension error")
	} else if !errors.As(err, &dimErr) {
		t.Fatalf("wrong error type: %v", err)
	}
}

func TestQdrantErrorStatusSurfaces(t *testing.T) {
	s := newTestQdrant(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader([]byte("overloaded"))),
		}, nil
	})

	err := s.Drop(context.Background(), uuid.New())
	var opErrTyped *OperationError
	if !errors.As(err, &opErrTyped) {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if opErrTyped.Code != OperationErrorQueryFailed || opErrTyped.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("op error: %+v", opErrTyped)
	}
}
