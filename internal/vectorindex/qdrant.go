package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

const (
	payloadDocumentKey = "_pp_document_id"
	payloadEntryIDKey  = "_pp_entry_id"
	payloadTextKey     = "_pp_text"
	payloadRunKey      = "_pp_run_id"
	maxErrorBodyBytes  = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("7c9e2f41-88da-45b1-9c30-6d1a2b04c7aa")

// Qdrant implements Index against the Qdrant HTTP API. Each entry is one
// point; the owning document ID lives in the payload and every query
// filters on it, so vectors never match across documents.
type Qdrant struct {
	log     *logger.Logger
	cfg     QdrantConfig
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewQdrant(log *logger.Logger, cfg QdrantConfig) (*Qdrant, error) {
	if err := validateQdrantConfig(cfg); err != nil {
		return nil, err
	}

	s := &Qdrant{
		log:     log.With("service", "QdrantVectorIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	s.log.Info("Qdrant vector index ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *Qdrant) checkDim(vec []float32) error {
	if len(vec) == 0 || (s.cfg.VectorDim > 0 && len(vec) != s.cfg.VectorDim) {
		return &DimensionError{Want: s.cfg.VectorDim, Got: len(vec)}
	}
	return nil
}

func (s *Qdrant) Replace(ctx context.Context, documentID uuid.UUID, entries []Entry) error {
	const op = "replace"
	for _, e := range entries {
		if err := s.checkDim(e.Vector); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		return s.deleteByDocument(ctx, op, documentID)
	}
	// Upsert the new run first, then sweep points from prior runs by
	// filter. A reader between the two calls sees the old set or a
	// superset, never an empty or torn window.
	runID := uuid.NewString()
	if err := s.upsert(ctx, op, documentID, runID, entries); err != nil {
		return err
	}
	return s.deleteStaleRuns(ctx, op, documentID, runID)
}

func (s *Qdrant) Add(ctx context.Context, documentID uuid.UUID, entry Entry) error {
	const op = "add"
	if err := s.checkDim(entry.Vector); err != nil {
		return err
	}
	return s.upsert(ctx, op, documentID, uuid.NewString(), []Entry{entry})
}

func (s *Qdrant) upsert(ctx context.Context, op string, documentID uuid.UUID, runID string, entries []Entry) error {
	points := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e.ID == uuid.Nil {
			return opErr(op, OperationErrorValidation, "entry id is required", nil)
		}
		points = append(points, map[string]any{
			"id":     s.pointID(documentID, e.ID),
			"vector": e.Vector,
			"payload": map[string]any{
				payloadDocumentKey: documentID.String(),
				payloadEntryIDKey:  e.ID.String(),
				payloadTextKey:     e.Text,
				payloadRunKey:      runID,
			},
		})
	}
	req := map[string]any{"points": points}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *Qdrant) Query(ctx context.Context, documentID uuid.UUID, vector []float32, k int) ([]Match, error) {
	const op = "query"
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   payloadDocumentKey,
					"match": map[string]any{"value": documentID.String()},
				},
			},
		},
	}
	var rawResults []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(rawResults))
	for _, item := range rawResults {
		entryID, ok := item.Payload[payloadEntryIDKey].(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(strings.TrimSpace(entryID))
		if err != nil {
			continue
		}
		text, _ := item.Payload[payloadTextKey].(string)
		out = append(out, Match{
			Entry: Entry{ID: id, Text: text},
			// Qdrant cosine score is similarity.
			Distance: 1 - item.Score,
		})
	}
	return out, nil
}

func (s *Qdrant) Drop(ctx context.Context, documentID uuid.UUID) error {
	return s.deleteByDocument(ctx, "drop", documentID)
}

// deleteStaleRuns removes the document's points from every run except the
// current one. Points written by Add carry their own run IDs and are swept
// too, which is what a full replace wants.
func (s *Qdrant) deleteStaleRuns(ctx context.Context, op string, documentID uuid.UUID, runID string) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   payloadDocumentKey,
					"match": map[string]any{"value": documentID.String()},
				},
			},
			"must_not": []any{
				map[string]any{
					"key":   payloadRunKey,
					"match": map[string]any{"value": runID},
				},
			},
		},
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *Qdrant) deleteByDocument(ctx context.Context, op string, documentID uuid.UUID) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   payloadDocumentKey,
					"match": map[string]any{"value": documentID.String()},
				},
			},
		},
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *Qdrant) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	return nil
}

func (s *Qdrant) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func (s *Qdrant) pointID(documentID, entryID uuid.UUID) string {
	deterministic := uuid.NewSHA1(pointIDNamespaceUUID, []byte(documentID.String()+"|"+entryID.String()))
	return deterministic.String()
}

func (s *Qdrant) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}
