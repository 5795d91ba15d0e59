package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/systemshift/graphcore/internal/graph"
	"github.com/systemshift/graphcore/internal/logger"
	"github.com/systemshift/graphcore/internal/server/subscriptions"
)

// errBadRequest marks request payloads that cannot be applied.
var errBadRequest = errors.New("bad request")

const tracerName = "github.com/systemshift/graphcore/internal/server/api"

// Server holds the HTTP server dependencies
type Server struct {
	db     *graph.DB
	subMgr *subscriptions.Manager
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithTracerProvider sets the provider used for request spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New creates a new API server. subMgr may be nil, in which case the
// subscription endpoints answer 503.
func New(db *graph.DB, subMgr *subscriptions.Manager, l *slog.Logger, opts ...Option) *Server {
	if l == nil {
		l = slog.Default()
	}
	s := &Server{db: db, subMgr: subMgr, logger: l, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tx", s.ApplyTx)
		r.Post("/query", s.Query)
		r.Get("/nodes/{id}", s.GetNode)
		r.Get("/indexes/{index}", s.Lookup)

		r.Post("/subscriptions", s.CreateSubscription)
		r.Get("/subscriptions", s.ListSubscriptions)
		r.Get("/subscriptions/{id}", s.GetSubscription)
		r.Patch("/subscriptions/{id}", s.UpdateSubscription)
		r.Delete("/subscriptions/{id}", s.DeleteSubscription)
	})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := s.db.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"nodes":         snap.NodeCount(),
		"relationships": snap.RelationshipCount(),
	})
}

// Op is one mutation in a transaction request. Node and relationship
// references are either committed IDs ("12") or local refs ("$homer")
// bound by an earlier create op in the same request.
type Op struct {
	Op         string                 `json:"op"`
	Ref        string                 `json:"ref,omitempty"`
	Node       string                 `json:"node,omitempty"`
	Rel        string                 `json:"rel,omitempty"`
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Index      string                 `json:"index,omitempty"`
	Key        string                 `json:"key,omitempty"`
	Value      interface{}            `json:"value,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// TxRequest is the request body for POST /api/tx
type TxRequest struct {
	Ops []Op `json:"ops"`
}

// TxResponse reports the identities bound to local refs.
type TxResponse struct {
	TxID          string                  `json:"tx_id"`
	Nodes         map[string]graph.NodeID `json:"nodes"`
	Relationships map[string]graph.RelID  `json:"relationships"`
}

// ApplyTx handles POST /api/tx. All ops apply in one transaction; the
// first failing op rolls the whole request back.
func (s *Server) ApplyTx(w http.ResponseWriter, r *http.Request) {
	var req TxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Ops) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: no ops", errBadRequest))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "graph.ApplyTx",
		trace.WithAttributes(attribute.Int("graph.ops", len(req.Ops))))
	defer span.End()

	resp := TxResponse{
		Nodes:         make(map[string]graph.NodeID),
		Relationships: make(map[string]graph.RelID),
	}
	err := s.db.Update(ctx, func(tx *graph.Tx) error {
		resp.TxID = tx.ID()
		span.SetAttributes(attribute.String("graph.tx_id", tx.ID()))
		for i, op := range req.Ops {
			if err := applyOp(tx, op, &resp); err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Op, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction rolled back")
		logger.FromContext(ctx).Debug("transaction rejected", "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func applyOp(tx *graph.Tx, op Op, resp *TxResponse) error {
	switch op.Op {
	case "create_node":
		id, err := tx.CreateNodeWithProperties(op.Properties)
		if err != nil {
			return err
		}
		return bindRef(resp.Nodes, op.Ref, id)

	case "set_property":
		id, err := resolveNode(op.Node, resp)
		if err != nil {
			return err
		}
		return tx.SetProperty(id, op.Key, op.Value)

	case "remove_property":
		id, err := resolveNode(op.Node, resp)
		if err != nil {
			return err
		}
		return tx.RemoveProperty(id, op.Key)

	case "create_relationship":
		from, err := resolveNode(op.From, resp)
		if err != nil {
			return err
		}
		to, err := resolveNode(op.To, resp)
		if err != nil {
			return err
		}
		id, err := tx.CreateRelationship(from, to, op.Type)
		if err != nil {
			return err
		}
		return bindRef(resp.Relationships, op.Ref, id)

	case "delete_relationship":
		id, err := resolveRel(op.Rel, resp)
		if err != nil {
			return err
		}
		return tx.DeleteRelationship(id)

	case "delete_node":
		id, err := resolveNode(op.Node, resp)
		if err != nil {
			return err
		}
		return tx.DeleteNode(id)

	case "index_add", "index_remove":
		id, err := resolveNode(op.Node, resp)
		if err != nil {
			return err
		}
		if op.Index == "" || op.Key == "" {
			return fmt.Errorf("%w: index and key are required", errBadRequest)
		}
		if op.Op == "index_add" {
			return tx.IndexAdd(op.Index, op.Key, op.Value, id)
		}
		return tx.IndexRemove(op.Index, op.Key, op.Value, id)

	case "index_remove_node":
		id, err := resolveNode(op.Node, resp)
		if err != nil {
			return err
		}
		return tx.IndexRemoveNode(op.Index, op.Key, id)

	default:
		return fmt.Errorf("%w: unknown op %q", errBadRequest, op.Op)
	}
}

func bindRef[T any](refs map[string]T, ref string, id T) error {
	if ref == "" {
		return nil
	}
	if !strings.HasPrefix(ref, "$") {
		return fmt.Errorf("%w: ref %q must start with $", errBadRequest, ref)
	}
	if _, dup := refs[ref]; dup {
		return fmt.Errorf("%w: ref %q bound twice", errBadRequest, ref)
	}
	refs[ref] = id
	return nil
}

func resolveNode(ref string, resp *TxResponse) (graph.NodeID, error) {
	if strings.HasPrefix(ref, "$") {
		id, ok := resp.Nodes[ref]
		if !ok {
			return 0, fmt.Errorf("%w: unbound node ref %q", errBadRequest, ref)
		}
		return id, nil
	}
	id, err := parseID(ref)
	return graph.NodeID(id), err
}

func resolveRel(ref string, resp *TxResponse) (graph.RelID, error) {
	if strings.HasPrefix(ref, "$") {
		id, ok := resp.Relationships[ref]
		if !ok {
			return 0, fmt.Errorf("%w: unbound relationship ref %q", errBadRequest, ref)
		}
		return id, nil
	}
	id, err := parseID(ref)
	return graph.RelID(id), err
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, s)
	}
	return id, nil
}

// QueryRequest is the request body for POST /api/query
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the response for POST /api/query
type QueryResponse struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// Query handles POST /api/query
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "graph.Query",
		trace.WithAttributes(attribute.String("graph.query", req.Query)))
	defer span.End()

	rs, err := s.db.ExecuteText(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		writeError(w, statusFor(err), err)
		return
	}
	span.SetAttributes(attribute.Int("graph.rows", rs.Len()))
	writeJSON(w, http.StatusOK, QueryResponse{Columns: rs.Columns(), Rows: rs.Rows()})
}

// NodeResponse is a node with its relationships.
type NodeResponse struct {
	graph.Node
	Relationships []graph.Relationship `json:"relationships"`
}

// GetNode handles GET /api/nodes/{id}
// Supports ?type= to restrict relationships and ?direction=out|in|both.
func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	dir := graph.Both
	switch r.URL.Query().Get("direction") {
	case "", "both":
	case "out":
		dir = graph.Outgoing
	case "in":
		dir = graph.Incoming
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: direction must be out, in or both", errBadRequest))
		return
	}

	snap := s.db.Snapshot()
	node, err := snap.Node(graph.NodeID(id))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rels := snap.Relationships(node.ID, dir, r.URL.Query().Get("type"))
	if rels == nil {
		rels = []graph.Relationship{}
	}
	writeJSON(w, http.StatusOK, NodeResponse{Node: node, Relationships: rels})
}

// LookupResponse is the response for GET /api/indexes/{index}
type LookupResponse struct {
	Index string         `json:"index"`
	Key   string         `json:"key"`
	Value interface{}    `json:"value"`
	Nodes []graph.NodeID `json:"nodes"`
}

// Lookup handles GET /api/indexes/{index}?key=K&value=V
// The value is read as a JSON literal when it parses as one (39, true,
// "39") and as plain text otherwise.
func (s *Server) Lookup(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" || !q.Has("value") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: key and value are required", errBadRequest))
		return
	}

	_, span := s.tracer.Start(r.Context(), "graph.Lookup", trace.WithAttributes(
		attribute.String("graph.index", index),
		attribute.String("graph.key", key),
	))
	defer span.End()

	value := parseLiteral(q.Get("value"))
	nodes := s.db.Snapshot().Lookup(index, key, value)
	span.SetAttributes(attribute.Int("graph.nodes", len(nodes)))
	writeJSON(w, http.StatusOK, LookupResponse{
		Index: index,
		Key:   key,
		Value: value,
		Nodes: nodes,
	})
}

func parseLiteral(raw string) graph.Value {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err == nil && !dec.More() {
		if nv, err := graph.NormalizeValue(v); err == nil {
			return nv
		}
	}
	return raw
}

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscriptions not enabled", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sub, err := s.subMgr.Register(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptions.SubscriptionResponse{Subscription: sub})
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscriptions not enabled", http.StatusServiceUnavailable)
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscriptions not enabled", http.StatusServiceUnavailable)
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscriptions not enabled", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sub, err := s.subMgr.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscriptions not enabled", http.StatusServiceUnavailable)
		return
	}

	if err := s.subMgr.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, subscriptions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, graph.ErrInvalidQuery),
		errors.Is(err, graph.ErrUnsupportedValue),
		errors.Is(err, graph.ErrEmptyRelationshipType),
		errors.Is(err, subscriptions.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
