// Package router is a small method + path router for fasthttp. Paths use
// {name} segments; matched values are stored as request user values.
package router

import (
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
)

type Router struct {
	routes           map[string][]route
	notFound         fasthttp.RequestHandler
	methodNotAllowed fasthttp.RequestHandler
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler dispatches on the raw request path so escaped slashes stay inside
// a parameter; parameter values are unescaped before they are stored.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.URI().PathOriginal())
	if list, ok := r.routes[method]; ok {
		for _, rt := range list {
			if values, ok := match(path, rt.segments); ok {
				for k, v := range values {
					ctx.SetUserValue(k, v)
				}
				rt.handler(ctx)
				return
			}
		}
	}
	if r.methodNotAllowed != nil && r.pathKnown(path) {
		r.methodNotAllowed(ctx)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) pathKnown(path string) bool {
	for _, list := range r.routes {
		for _, rt := range list {
			if _, ok := match(path, rt.segments); ok {
				return true
			}
		}
	}
	return false
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)  { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) PATCH(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPatch, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodDelete, path, h)
}

// NotFound registers a handler for unmatched paths.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// MethodNotAllowed registers a handler for known paths requested with an
// unregistered method.
func (r *Router) MethodNotAllowed(h fasthttp.RequestHandler) {
	r.methodNotAllowed = h
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{segments: parse(path), handler: h})
}

func parse(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []segment{{}}
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	if len(segs) == 1 && !segs[0].isParam && segs[0].name == "" {
		if path == "" {
			return map[string]string{}, true
		}
		return nil, false
	}
	parts := []string{}
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			v, err := url.PathUnescape(parts[i])
			if err != nil || v == "" {
				return nil, false
			}
			values[seg.name] = v
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}

// Param returns a path parameter set by the router.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	s, _ := ctx.UserValue(name).(string)
	return s
}
