package api

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"eduapp/pkg/models"
	"eduapp/pkg/router"
)

func (s *Server) createDoc(ctx *fasthttp.RequestCtx) {
	var doc models.Document
	if !decodeBody(ctx, &doc) {
		return
	}
	c, cancel := s.requestContext()
	defer cancel()
	out, err := s.seq.Layer().Create(c, doc)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, out)
}

func (s *Server) readDoc(ctx *fasthttp.RequestCtx) {
	key := router.Param(ctx, "key")
	c, cancel := s.requestContext()
	defer cancel()
	doc, found, err := s.seq.Layer().Read(c, key)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	if !found {
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "missing")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, doc)
}

// saveDoc writes the full body conditionally on its _rev; the path key wins
// over any _id in the body.
func (s *Server) saveDoc(ctx *fasthttp.RequestCtx) {
	var doc models.Document
	if !decodeBody(ctx, &doc) {
		return
	}
	doc.Key = router.Param(ctx, "key")
	c, cancel := s.requestContext()
	defer cancel()
	created := doc.Revision == ""
	out, err := s.seq.Layer().Save(c, doc)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	status := fasthttp.StatusOK
	if created {
		status = fasthttp.StatusCreated
	}
	writeJSON(ctx, status, out)
}

func (s *Server) updateDoc(ctx *fasthttp.RequestCtx) {
	var partial map[string]any
	if !decodeBody(ctx, &partial) {
		return
	}
	c, cancel := s.requestContext()
	defer cancel()
	out, err := s.seq.Layer().Update(c, router.Param(ctx, "key"), partial)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) deleteDoc(ctx *fasthttp.RequestCtx) {
	c, cancel := s.requestContext()
	defer cancel()
	ok, err := s.seq.Layer().Delete(c, router.Param(ctx, "key"))
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]bool{"ok": ok})
}

func (s *Server) findDocs(ctx *fasthttp.RequestCtx) {
	var q models.FindQuery
	if !decodeBody(ctx, &q) {
		return
	}
	c, cancel := s.requestContext()
	defer cancel()
	docs, err := s.seq.Layer().Find(c, q)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"docs": docs})
}

func (s *Server) listDocs(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	opts := models.ListOptions{
		StartKey:    string(args.Peek("startkey")),
		EndKey:      string(args.Peek("endkey")),
		IncludeDocs: args.GetBool("include_docs"),
	}
	var ok bool
	if opts.Limit, ok = intArg(ctx, "limit"); !ok {
		return
	}
	if opts.Skip, ok = intArg(ctx, "skip"); !ok {
		return
	}
	c, cancel := s.requestContext()
	defer cancel()
	docs, err := s.seq.Layer().List(c, opts)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"docs": docs})
}

func (s *Server) queryView(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	var q models.ViewQuery
	if raw := args.Peek("key"); raw != nil {
		var key any
		if !jsonArg(ctx, "key", raw, &key) {
			return
		}
		q = q.ByKey(key)
	}
	if raw := args.Peek("startkey"); raw != nil && !jsonArg(ctx, "startkey", raw, &q.StartKey) {
		return
	}
	if raw := args.Peek("endkey"); raw != nil && !jsonArg(ctx, "endkey", raw, &q.EndKey) {
		return
	}
	if raw := args.Peek("reduce"); raw != nil {
		on, err := strconv.ParseBool(string(raw))
		if err != nil {
			writeError(ctx, fasthttp.StatusBadRequest, "invalid_request", "reduce must be a boolean")
			return
		}
		q = q.WithReduce(on)
	}
	q.Group = args.GetBool("group")
	q.IncludeDocs = args.GetBool("include_docs")
	var ok bool
	if q.Limit, ok = intArg(ctx, "limit"); !ok {
		return
	}
	if q.Skip, ok = intArg(ctx, "skip"); !ok {
		return
	}

	c, cancel := s.requestContext()
	defer cancel()
	res, err := s.seq.Layer().View(c, router.Param(ctx, "index"), router.Param(ctx, "view"), q)
	if err != nil {
		writeAccessError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}

func intArg(ctx *fasthttp.RequestCtx, name string) (int, bool) {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return 0, true
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_request", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func jsonArg(ctx *fasthttp.RequestCtx, name string, raw []byte, dst *any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_request", name+" must be JSON")
		return false
	}
	return true
}
