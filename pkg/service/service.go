// Package service exposes the pin store over HTTP. Every operation runs the
// same template: decode, validate, acquire a pool handle, execute a gateway
// read or an audited write, release, reply.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/export"
	"github.com/packrat/pinserver/pkg/identity"
	"github.com/packrat/pinserver/pkg/pool"
	"github.com/packrat/pinserver/pkg/query"
	"github.com/packrat/pinserver/pkg/store"
	"github.com/packrat/pinserver/pkg/txn"
)

// handler executes one decoded operation.
type handler func(ctx context.Context, s *Service, op string, body io.Reader) (any, error)

type operation struct {
	write bool
	run   handler
}

// Service serves the pin operations.
type Service struct {
	db        *gorm.DB
	pool      *pool.Pool
	txn       *txn.Coordinator
	validate  *validator.Validate
	cfg       Config
	logger    *slog.Logger
	ops       map[string]operation
	startedAt time.Time
}

// New creates a Service over db, gating database access with p.
func New(db *gorm.DB, p *pool.Pool, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Service{
		db:        db,
		pool:      p,
		txn:       txn.New(logger),
		validate:  validator.New(),
		cfg:       cfg,
		logger:    logger,
		ops:       operations(),
		startedAt: time.Now(),
	}
}

func operations() map[string]operation {
	return map[string]operation{
		api.OpGetPackages: {run: read(func(ctx context.Context, g *store.Gateway, q query.Packages) ([]store.Package, error) {
			return g.Packages(ctx, q)
		})},
		api.OpGetLevels: {run: read(func(ctx context.Context, g *store.Gateway, q query.Levels) ([]store.Level, error) {
			return g.Levels(ctx, q)
		})},
		api.OpGetRoles: {run: read(func(ctx context.Context, g *store.Gateway, q query.Roles) ([]store.Role, error) {
			return g.Roles(ctx, q)
		})},
		api.OpGetPlatforms: {run: read(func(ctx context.Context, g *store.Gateway, q query.Platforms) ([]store.Platform, error) {
			return g.Platforms(ctx, q)
		})},
		api.OpGetSites: {run: read(func(ctx context.Context, g *store.Gateway, q query.Sites) ([]store.Site, error) {
			return g.Sites(ctx, q)
		})},
		api.OpGetDistributions: {run: read(func(ctx context.Context, g *store.Gateway, q query.Distributions) ([]store.Distribution, error) {
			return g.Distributions(ctx, q)
		})},
		api.OpGetPkgCoords: {run: read(func(ctx context.Context, g *store.Gateway, q query.PkgCoords) ([]store.PkgCoord, error) {
			return g.PkgCoords(ctx, q)
		})},
		api.OpGetWiths: {run: read(func(ctx context.Context, g *store.Gateway, q query.Withs) ([]store.VersionPinRow, error) {
			return g.Withs(ctx, q)
		})},
		api.OpGetVersionPin: {run: read(func(ctx context.Context, g *store.Gateway, q query.VersionPin) (store.VersionPinRow, error) {
			return g.VersionPin(ctx, q)
		})},
		api.OpGetVersionPins: {run: read(func(ctx context.Context, g *store.Gateway, q query.VersionPins) ([]store.VersionPinRow, error) {
			return g.VersionPins(ctx, q)
		})},
		api.OpGetVersionPinWiths: {run: read(func(ctx context.Context, g *store.Gateway, q query.VersionPinWiths) ([]store.With, error) {
			return g.VersionPinWiths(ctx, q)
		})},
		api.OpGetRevisions: {run: read(func(ctx context.Context, g *store.Gateway, q query.Revisions) ([]store.Revision, error) {
			return g.Revisions(ctx, q)
		})},
		api.OpGetChanges: {run: read(func(ctx context.Context, g *store.Gateway, q query.Changes) ([]store.ChangeRow, error) {
			return g.Changes(ctx, q)
		})},
		api.OpExport: {run: read(exportPins)},

		api.OpAddPackages: {write: true, run: write(func(r api.AddNames) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddPackages(r.Names) }
		})},
		api.OpAddLevels: {write: true, run: write(func(r api.AddNames) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddLevels(r.Names) }
		})},
		api.OpAddRoles: {write: true, run: write(func(r api.AddNames) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddRoles(r.Names) }
		})},
		api.OpAddPlatforms: {write: true, run: write(func(r api.AddNames) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddPlatforms(r.Names) }
		})},
		api.OpAddSites: {write: true, run: write(func(r api.AddNames) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddSites(r.Names) }
		})},
		api.OpAddDistributions: {write: true, run: write(func(r api.AddDistributions) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddDistributions(r.Package, r.Versions) }
		})},
		api.OpAddWiths: {write: true, run: write(func(r api.AddWiths) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.AddWiths(r.VersionPinID, r.Withs) }
		})},
		api.OpAddVersionPins: {write: true, run: write(func(r api.AddVersionPins) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) {
				return g.AddVersionPins(r.Distribution, r.Levels, r.Roles, r.Platforms, r.Sites)
			}
		})},
		api.OpSetVersionPins: {write: true, run: write(func(r api.SetVersionPins) txn.Mutation {
			return func(g *store.Gateway) ([]store.Change, error) { return g.SetVersionPins(r.VersionPinIDs, r.DistributionIDs) }
		})},
	}
}

// read adapts a gateway query into a handler.
func read[Req, Resp any](fn func(context.Context, *store.Gateway, Req) (Resp, error)) handler {
	return func(ctx context.Context, s *Service, op string, body io.Reader) (any, error) {
		var req Req
		if err := s.decode(op, body, &req, false); err != nil {
			return nil, err
		}
		var resp Resp
		err := s.pool.With(ctx, func(h *pool.Handle) error {
			var err error
			resp, err = fn(ctx, store.NewGateway(h.DB(ctx), s.logger), req)
			return err
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// write adapts a mutation into a handler that commits it as one audited
// transaction.
func write[Req interface{ Provenance() api.Audit }](mutation func(Req) txn.Mutation) handler {
	return func(ctx context.Context, s *Service, op string, body io.Reader) (any, error) {
		var req Req
		if err := s.decode(op, body, &req, true); err != nil {
			return nil, err
		}
		audit := req.Provenance()
		author, err := identity.Author(ctx, audit.Author)
		if err != nil {
			return nil, err
		}
		var res txn.Result
		err = s.pool.With(ctx, func(h *pool.Handle) error {
			var err error
			res, err = s.txn.Run(ctx, h.DB(ctx), author, audit.Comment, op, mutation(req))
			return err
		})
		if err != nil {
			return nil, err
		}
		return api.WriteReply{TransactionID: res.TransactionID, Updates: res.Updates}, nil
	}
}

func exportPins(ctx context.Context, g *store.Gateway, req api.Export) (api.ExportReply, error) {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return api.ExportReply{}, err
	}
	rows, err := g.ShowPins(ctx, req.Show)
	if err != nil {
		return api.ExportReply{}, err
	}
	doc, err := export.Render(req.Show, rows, format)
	if err != nil {
		return api.ExportReply{}, err
	}
	return api.ExportReply{Show: req.Show, Format: string(format), Pins: len(rows), Document: doc}, nil
}

// decode reads a JSON body into v and validates it. An empty body leaves v at
// its zero value. Writes reject unknown fields; reads log and ignore them so
// newer clients can still query an older server.
func (s *Service) decode(op string, body io.Reader, v any, strict bool) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Errorf("read request: %w", err))
	}
	if len(bytes.TrimSpace(data)) > 0 {
		err := unmarshal(data, v, true)
		if err != nil && !strict && isUnknownField(err) {
			s.logger.Warn("ignoring unknown request fields", "operation", op, "error", err)
			err = unmarshal(data, v, false)
		}
		if err != nil {
			return errcode.Wrap(errcode.InvalidArgument, fmt.Errorf("decode request: %w", err))
		}
	}
	if err := s.validate.Struct(v); err != nil {
		return errcode.Wrap(errcode.InvalidArgument, fmt.Errorf("validate request: %w", err))
	}
	return nil
}

func unmarshal(data []byte, v any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

// isUnknownField reports whether err came from DisallowUnknownFields.
// encoding/json exposes no typed error for it.
func isUnknownField(err error) bool {
	return strings.HasPrefix(err.Error(), "json: unknown field ")
}

// Operations lists the served operations by name.
func (s *Service) Operations() []api.Operation {
	out := make([]api.Operation, 0, len(s.ops))
	for name, op := range s.ops {
		out = append(out, api.Operation{Name: name, Write: op.write})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs one operation with a JSON request body and returns the reply
// value. Errors carry the operation name and an errcode classification.
func (s *Service) Call(ctx context.Context, name string, body io.Reader) (any, error) {
	op, ok := s.ops[name]
	if !ok {
		return nil, errcode.WithOp(name, errcode.New(errcode.NotFound, "unknown operation %q", name))
	}
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := op.run(ctx, s, name, body)
	err = errcode.WithOp(name, err)
	HistogramRequestSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	code := "ok"
	if err != nil {
		code = string(errcode.CodeOf(err))
	}
	CounterRequests.WithLabelValues(name, code).Inc()
	return resp, err
}

func (s *Service) handleOperation(w http.ResponseWriter, r *http.Request, name string) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	resp, err := s.Call(r.Context(), name, body)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) writeError(w http.ResponseWriter, name string, err error) {
	code := errcode.CodeOf(err)
	msg := err.Error()
	var e *errcode.Error
	if errors.As(err, &e) && e.Err != nil {
		msg = e.Err.Error()
	}
	if code == errcode.Internal {
		s.logger.Error("operation failed", "operation", name, "error", err)
	}
	writeJSON(w, code.HTTPStatus(), api.ErrorBody{Code: code, Operation: name, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
