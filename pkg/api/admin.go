package api

import (
	"time"

	"github.com/valyala/fasthttp"

	"eduapp/pkg/bootstrap"
	"eduapp/pkg/logger"
	"eduapp/pkg/state"
)

func (s *Server) health(ctx *fasthttp.RequestCtx) {
	out := map[string]any{
		"status": "ok",
		"state":  s.seq.State().String(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.DataDir != "" {
		if u, err := state.DiskUsage(s.opts.DataDir); err == nil {
			out["disk"] = u.String()
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) readiness(ctx *fasthttp.RequestCtx) {
	st := s.seq.State()
	if st != bootstrap.Ready {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not_ready", "state": st.String()})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready", "state": st.String()})
}

type indexView struct {
	Name       string         `json:"name"`
	ID         string         `json:"id"`
	Definition map[string]any `json:"definition"`
}

type reportEntry struct {
	Index    string `json:"index"`
	Outcome  string `json:"outcome"`
	Revision string `json:"revision,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) listIndexes(ctx *fasthttp.RequestCtx) {
	defs := s.seq.Registry().Definitions()
	views := make([]indexView, 0, len(defs))
	for _, d := range defs {
		views = append(views, indexView{Name: d.Name, ID: d.ID(), Definition: d.DesignFields()})
	}
	report, err := s.seq.Result()
	entries := make([]reportEntry, 0, len(report))
	for _, r := range report {
		e := reportEntry{Index: r.Index, Outcome: string(r.Outcome), Revision: r.Revision}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		entries = append(entries, e)
	}
	out := map[string]any{"state": s.seq.State().String(), "indexes": views, "report": entries}
	if err != nil {
		out["error"] = err.Error()
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) runCompaction(ctx *fasthttp.RequestCtx) {
	if s.opts.Compact == nil {
		writeError(ctx, fasthttp.StatusNotImplemented, "unsupported", "compaction is not configured")
		return
	}
	if !s.ready() {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "not_ready", "bootstrap state "+s.seq.State().String())
		return
	}
	res, err := s.opts.Compact(ctx)
	if err != nil {
		logger.Error("compaction_request_failed", "error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "compaction_failed", err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}
