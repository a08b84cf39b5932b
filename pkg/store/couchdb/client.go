// Package couchdb talks to a remote document store over its HTTP API.
package couchdb

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"eduapp/pkg/logger"
	"eduapp/pkg/store"
)

const defaultTimeout = 10 * time.Second

type Options struct {
	URL      string
	Username string
	Password string
	// Timeout applies to requests whose context carries no deadline.
	Timeout time.Duration
	// Dial replaces the TCP dialer; tests use it to reach in-memory listeners.
	Dial fasthttp.DialFunc
}

// Server is a store.Server for one remote endpoint. It is safe for
// concurrent use.
type Server struct {
	base    string
	auth    string
	timeout time.Duration
	client  *fasthttp.Client
}

var (
	_ store.Server = (*Server)(nil)
	_ store.Pinger = (*Server)(nil)
)

func New(o Options) (*Server, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("couchdb url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("couchdb url: unsupported scheme %q", u.Scheme)
	}
	user, pass := o.Username, o.Password
	if u.User != nil {
		if user == "" {
			user = u.User.Username()
		}
		if pass == "" {
			pass, _ = u.User.Password()
		}
		u.User = nil
	}
	s := &Server{
		base:    strings.TrimRight(u.String(), "/"),
		timeout: o.Timeout,
		client: &fasthttp.Client{
			Name:                "eduapp",
			Dial:                o.Dial,
			MaxIdleConnDuration: 30 * time.Second,
			// escaped ids must reach the server as sent
			DisablePathNormalizing: true,
		},
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if user != "" {
		s.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}
	logger.Info("couchdb_client_ready", "url", s.base, "auth", user != "")
	return s, nil
}

func (s *Server) CreateDatabase(ctx context.Context, name string) error {
	_, err := s.do(ctx, fasthttp.MethodPut, "/"+url.PathEscape(name), nil, nil)
	return err
}

func (s *Server) Use(name string) store.Database {
	return &database{s: s, name: name, path: "/" + url.PathEscape(name)}
}

// Ping checks that the endpoint answers its welcome resource.
func (s *Server) Ping(ctx context.Context) error {
	_, err := s.do(ctx, fasthttp.MethodGet, "/", nil, nil)
	return err
}

// Close is a no-op; idle connections expire on their own.
func (s *Server) Close() error {
	return nil
}

// errorBody is the remote failure payload.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// do sends one request and returns the response body of a 2xx answer. Remote
// failures become *store.StatusError; transport failures stay plain errors.
func (s *Server) do(ctx context.Context, method, path string, query *fasthttp.Args, body any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := s.base + path
	if query != nil && query.Len() > 0 {
		uri += "?" + query.String()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if s.auth != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, s.auth)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(raw)
	}

	start := time.Now()
	var err error
	if dl, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, dl)
	} else {
		err = s.client.DoTimeout(req, resp, s.timeout)
	}
	if err != nil {
		logger.Debug("couchdb_request_failed", "method", method, "path", path, "error", err)
		if errors.Is(err, fasthttp.ErrTimeout) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("couchdb %s %s: %w", method, path, err)
	}
	code := resp.StatusCode()
	logger.Debug("couchdb_request", "method", method, "path", path, "status", code, "took", time.Since(start).String())
	if code >= 200 && code < 300 {
		return append([]byte(nil), resp.Body()...), nil
	}
	var eb errorBody
	_ = json.Unmarshal(resp.Body(), &eb)
	if eb.Error == "" {
		eb.Error = strings.ToLower(strings.ReplaceAll(fasthttp.StatusMessage(code), " ", "_"))
	}
	return nil, &store.StatusError{Code: code, Name: eb.Error, Reason: eb.Reason}
}

// jsonArg encodes a key as the JSON literal the query string expects.
func jsonArg(args *fasthttp.Args, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	args.AddBytesV(name, raw)
	return nil
}

// docPath escapes an id, keeping the slash of design document ids.
func docPath(db, id string) string {
	if strings.HasPrefix(id, "_design/") {
		return db + "/_design/" + url.PathEscape(strings.TrimPrefix(id, "_design/"))
	}
	return db + "/" + url.PathEscape(id)
}
