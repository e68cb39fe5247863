package server

import (
	"encoding/json"

	"github.com/bhakti-db/bhakti/internal/engine"
	"github.com/bhakti-db/bhakti/internal/errors"
)

// Engine is the capability set the dispatcher routes to. The sole provided
// implementation is engine.Dipamkara; the dispatcher routes by name to leave
// room for alternates.
type Engine interface {
	Insight() engine.Insight
	Create(vector []float64, document map[string]any, indices []string, cached bool) (bool, error)
	CreateIndex(name string) (map[string]any, error)
	Save() error
	InvalidateCachedDoc(vector []float64) (bool, error)
	RemoveByVector(vector []float64, instaSave bool) (bool, error)
	IndexedRemove(query string) (bool, error)
	RemoveIndex(name string) (bool, error)
	ModifyField(vector []float64, field string, value any) (bool, error)
	VectorQuery(vector []float64, metric string, topK int) ([]engine.Neighbor, error)
	IndexedVectorQuery(query string, vector []float64, metric string, topK int) ([]engine.Neighbor, error)
	FindDocuments(vector []float64, metric string, topK int, cached bool) ([]engine.DocMatch, error)
	FindDocumentsIndexed(query string, vector []float64, metric string, topK int, cached bool) ([]engine.DocMatch, error)
}

// Dispatcher decodes request envelopes and routes them to a named engine.
type Dispatcher struct {
	engines map[string]Engine
}

// NewDispatcher creates a dispatcher with no engines registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{engines: make(map[string]Engine)}
}

// Register adds an engine under a name.
func (d *Dispatcher) Register(name string, eng Engine) {
	d.engines[name] = eng
}

// Handle decodes one request payload and produces the single reply envelope.
// Every failure renders as an Exception reply; the transport never sees an
// error from Handle.
func (d *Dispatcher) Handle(payload []byte) Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Exception(errors.Newf(errors.ErrCodeProtocolDecode,
			"malformed request envelope: %v", err).Error())
	}
	if req.Opt == "" || req.Cmd == "" {
		return Exception(errors.New(errors.ErrCodeProtocolDecode,
			"request envelope misses opt or cmd", nil).Error())
	}

	eng, ok := d.engines[req.DBEngine]
	if !ok {
		return Exception(errors.Newf(errors.ErrCodeEngineNotSupported,
			"db_engine %q not supported", req.DBEngine).Error())
	}

	var params Params
	if len(req.Param) > 0 {
		if err := json.Unmarshal(req.Param, &params); err != nil {
			return Exception(errors.Newf(errors.ErrCodeProtocolDecode,
				"malformed param object: %v", err).Error())
		}
	}

	switch {
	case req.Opt == OptInsight && req.Cmd == CmdInsight:
		return OK(eng.Insight())

	case req.Opt == OptRead && req.Cmd == CmdPing:
		return OK(true)

	case req.Opt == OptCreate && req.Cmd == CmdCreate:
		return reply(eng.Create(params.Vector, params.Document, params.Indices, params.Cached))

	case req.Opt == OptCreate && req.Cmd == CmdCreateIndex:
		return reply(eng.CreateIndex(params.Index))

	case req.Opt == OptSave && req.Cmd == CmdSave:
		if err := eng.Save(); err != nil {
			return Exception(err.Error())
		}
		return OK(true)

	case req.Opt == OptDelete && req.Cmd == CmdInvalidateCachedDoc:
		return reply(eng.InvalidateCachedDoc(params.Vector))

	case req.Opt == OptDelete && req.Cmd == CmdRemoveByVector:
		return reply(eng.RemoveByVector(params.Vector, true))

	case req.Opt == OptDelete && req.Cmd == CmdIndexedRemove:
		return reply(eng.IndexedRemove(params.Query))

	case req.Opt == OptDelete && req.Cmd == CmdRemoveIndex:
		return reply(eng.RemoveIndex(params.Index))

	case req.Opt == OptUpdate && req.Cmd == CmdModDocByVector:
		return reply(eng.ModifyField(params.Vector, params.Key, params.Value))

	case req.Opt == OptRead && req.Cmd == CmdVectorQuery:
		return reply(eng.VectorQuery(params.Vector, params.Metric, params.TopK))

	case req.Opt == OptRead && req.Cmd == CmdIndexedVectorQuery:
		return reply(eng.IndexedVectorQuery(params.Query, params.Vector, params.Metric, params.TopK))

	case req.Opt == OptRead && req.Cmd == CmdFindDocuments:
		return reply(eng.FindDocuments(params.Vector, params.Metric, params.TopK, params.Cached))

	case req.Opt == OptRead && req.Cmd == CmdFindDocumentsIndexed:
		return reply(eng.FindDocumentsIndexed(params.Query, params.Vector, params.Metric, params.TopK, params.Cached))

	default:
		return Exception(errors.Newf(errors.ErrCodeUnknownCommand,
			"unknown operation %s/%s", req.Opt, req.Cmd).Error())
	}
}

// reply folds an (value, error) operation result into a Response.
func reply[T any](data T, err error) Response {
	if err != nil {
		return Exception(err.Error())
	}
	return OK(data)
}
