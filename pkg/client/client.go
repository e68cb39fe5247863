// Package client implements the wire-protocol client: one framed request,
// one framed reply, connection closed by the server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/bhakti-db/bhakti/internal/server"
)

// Defaults mirroring the server's.
const (
	DefaultTimeout    = 4 * time.Second
	DefaultBufferSize = 256
)

// Client talks to one Bhakti server. It is safe for concurrent use; every
// call opens its own connection.
type Client struct {
	addr       string
	engine     string
	eof        []byte
	timeout    time.Duration
	bufferSize int
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the per-call dial and I/O timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEOF overrides the frame terminator; it must match the server's.
func WithEOF(eof string) Option {
	return func(c *Client) { c.eof = []byte(eof) }
}

// WithBufferSize overrides the read chunk size.
func WithBufferSize(n int) Option {
	return func(c *Client) { c.bufferSize = n }
}

// New creates a client for the given host:port address.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:       addr,
		engine:     server.DefaultEngineName,
		eof:        []byte(server.DefaultEOF),
		timeout:    DefaultTimeout,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// response mirrors the reply envelope, keeping data raw for typed decoding.
type response struct {
	State   string          `json:"state"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// roundTrip performs one request/reply exchange.
func (c *Client) roundTrip(ctx context.Context, opt, cmd string, param any) (json.RawMessage, error) {
	req := map[string]any{
		"db_engine": c.engine,
		"opt":       opt,
		"cmd":       cmd,
	}
	if param != nil {
		req["param"] = param
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := server.WriteFrame(conn, payload, c.eof); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	data, err := server.ReadFrame(conn, c.eof, c.bufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to receive reply: %w", err)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if resp.State != server.StateOK {
		return nil, fmt.Errorf("server exception: %s", resp.Message)
	}
	return resp.Data, nil
}

func decodeInto[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode reply data: %w", err)
	}
	return out, nil
}

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, server.OptRead, server.CmdPing, nil)
	return err
}

// Insight retrieves the engine's meta snapshot.
func (c *Client) Insight(ctx context.Context) (map[string]any, error) {
	data, err := c.roundTrip(ctx, server.OptInsight, server.CmdInsight, nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[map[string]any](data)
}

// Create stores a record.
func (c *Client) Create(ctx context.Context, vector []float64, document map[string]any, indices []string, cached bool) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptCreate, server.CmdCreate, map[string]any{
		"vector":   vector,
		"document": document,
		"indices":  indices,
		"cached":   cached,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// CreateIndex builds an inverted index and returns its entries.
func (c *Client) CreateIndex(ctx context.Context, name string) (map[string]any, error) {
	data, err := c.roundTrip(ctx, server.OptCreate, server.CmdCreateIndex, map[string]any{
		"index": name,
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[map[string]any](data)
}

// Save flushes the server's snapshots.
func (c *Client) Save(ctx context.Context) error {
	_, err := c.roundTrip(ctx, server.OptSave, server.CmdSave, nil)
	return err
}

// InvalidateCachedDoc drops a record's cached document body.
func (c *Client) InvalidateCachedDoc(ctx context.Context, vector []float64) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptDelete, server.CmdInvalidateCachedDoc, map[string]any{
		"vector": vector,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// RemoveByVector destroys a record. False means the vector was absent.
func (c *Client) RemoveByVector(ctx context.Context, vector []float64) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptDelete, server.CmdRemoveByVector, map[string]any{
		"vector": vector,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// IndexedRemove destroys every record matching the filter expression.
func (c *Client) IndexedRemove(ctx context.Context, query string) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptDelete, server.CmdIndexedRemove, map[string]any{
		"query": query,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// RemoveIndex drops an inverted index.
func (c *Client) RemoveIndex(ctx context.Context, name string) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptDelete, server.CmdRemoveIndex, map[string]any{
		"index": name,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// ModifyField updates one existing field of a record's document.
func (c *Client) ModifyField(ctx context.Context, vector []float64, key string, value any) (bool, error) {
	data, err := c.roundTrip(ctx, server.OptUpdate, server.CmdModDocByVector, map[string]any{
		"vector": vector,
		"key":    key,
		"value":  value,
	})
	if err != nil {
		return false, err
	}
	return decodeInto[bool](data)
}

// VectorQuery returns the topK nearest vectors, ascending by distance.
func (c *Client) VectorQuery(ctx context.Context, vector []float64, metric string, topK int) ([]Neighbor, error) {
	data, err := c.roundTrip(ctx, server.OptRead, server.CmdVectorQuery, map[string]any{
		"vector":       vector,
		"metric_value": metric,
		"top_k":        topK,
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[[]Neighbor](data)
}

// IndexedVectorQuery is VectorQuery restricted by a filter expression.
func (c *Client) IndexedVectorQuery(ctx context.Context, query string, vector []float64, metric string, topK int) ([]Neighbor, error) {
	data, err := c.roundTrip(ctx, server.OptRead, server.CmdIndexedVectorQuery, map[string]any{
		"query":        query,
		"vector":       vector,
		"metric_value": metric,
		"top_k":        topK,
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[[]Neighbor](data)
}

// FindDocuments returns the topK nearest documents with distances.
func (c *Client) FindDocuments(ctx context.Context, vector []float64, metric string, topK int, cached bool) ([]DocMatch, error) {
	data, err := c.roundTrip(ctx, server.OptRead, server.CmdFindDocuments, map[string]any{
		"vector":       vector,
		"metric_value": metric,
		"top_k":        topK,
		"cached":       cached,
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[[]DocMatch](data)
}

// FindDocumentsIndexed is FindDocuments restricted by a filter expression.
func (c *Client) FindDocumentsIndexed(ctx context.Context, query string, vector []float64, metric string, topK int, cached bool) ([]DocMatch, error) {
	data, err := c.roundTrip(ctx, server.OptRead, server.CmdFindDocumentsIndexed, map[string]any{
		"query":        query,
		"vector":       vector,
		"metric_value": metric,
		"top_k":        topK,
		"cached":       cached,
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[[]DocMatch](data)
}
