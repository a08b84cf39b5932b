package couchdb

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"eduapp/pkg/models"
	"eduapp/pkg/store"
)

// findUnlimited stands in for "no limit"; the remote default is 25.
const findUnlimited = 1 << 30

type database struct {
	s    *Server
	name string
	path string
}

var (
	_ store.Database  = (*database)(nil)
	_ store.Compactor = (*database)(nil)
)

func (d *database) Name() string { return d.name }

type writeResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func (d *database) Insert(ctx context.Context, doc models.Document) (models.DocMeta, error) {
	body := doc.Map()
	method, path := fasthttp.MethodPost, d.path
	if doc.Key != "" {
		method, path = fasthttp.MethodPut, docPath(d.path, doc.Key)
		delete(body, models.FieldKey)
	}
	raw, err := d.s.do(ctx, method, path, nil, body)
	if err != nil {
		return models.DocMeta{}, err
	}
	var wr writeResult
	if err := json.Unmarshal(raw, &wr); err != nil {
		return models.DocMeta{}, fmt.Errorf("decode write result: %w", err)
	}
	return models.DocMeta{Key: wr.ID, Revision: wr.Rev}, nil
}

func (d *database) Get(ctx context.Context, key string) (models.Document, error) {
	raw, err := d.s.do(ctx, fasthttp.MethodGet, docPath(d.path, key), nil, nil)
	if err != nil {
		return models.Document{}, err
	}
	return decodeDocument(raw)
}

func (d *database) Destroy(ctx context.Context, key, rev string) error {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Add("rev", rev)
	_, err := d.s.do(ctx, fasthttp.MethodDelete, docPath(d.path, key), args, nil)
	return err
}

type findRequest struct {
	Selector map[string]any `json:"selector"`
	Limit    int            `json:"limit"`
	Skip     int            `json:"skip,omitempty"`
}

type findResponse struct {
	Docs    []json.RawMessage `json:"docs"`
	Warning string            `json:"warning,omitempty"`
}

func (d *database) Find(ctx context.Context, q models.FindQuery) ([]models.Document, error) {
	req := findRequest{Selector: q.Selector, Limit: q.Limit, Skip: q.Skip}
	if req.Selector == nil {
		req.Selector = map[string]any{}
	}
	if req.Limit == 0 {
		req.Limit = findUnlimited
	}
	raw, err := d.s.do(ctx, fasthttp.MethodPost, d.path+"/_find", nil, req)
	if err != nil {
		return nil, err
	}
	var fr findResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		return nil, fmt.Errorf("decode find result: %w", err)
	}
	out := make([]models.Document, 0, len(fr.Docs))
	for _, r := range fr.Docs {
		doc, err := decodeDocument(r)
		if err != nil {
			return nil, err
		}
		if doc.IsDesign() {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

type rowsResponse struct {
	TotalRows int `json:"total_rows"`
	Offset    int `json:"offset"`
	Rows      []struct {
		ID    string          `json:"id"`
		Key   any             `json:"key"`
		Value json.RawMessage `json:"value"`
		Doc   json.RawMessage `json:"doc"`
	} `json:"rows"`
}

func (d *database) List(ctx context.Context, opts models.ListOptions) ([]models.Document, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	if opts.StartKey != "" {
		if err := jsonArg(args, "startkey", opts.StartKey); err != nil {
			return nil, err
		}
	}
	if opts.EndKey != "" {
		if err := jsonArg(args, "endkey", opts.EndKey); err != nil {
			return nil, err
		}
	}
	pageArgs(args, opts.Limit, opts.Skip)
	if opts.IncludeDocs {
		args.Add("include_docs", "true")
	}
	raw, err := d.s.do(ctx, fasthttp.MethodGet, d.path+"/_all_docs", args, nil)
	if err != nil {
		return nil, err
	}
	var rr rowsResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode all_docs: %w", err)
	}
	out := make([]models.Document, 0, len(rr.Rows))
	for _, row := range rr.Rows {
		if opts.IncludeDocs && len(row.Doc) > 0 && string(row.Doc) != "null" {
			doc, err := decodeDocument(row.Doc)
			if err != nil {
				return nil, err
			}
			out = append(out, doc)
			continue
		}
		var v struct {
			Rev string `json:"rev"`
		}
		_ = json.Unmarshal(row.Value, &v)
		out = append(out, models.Document{Key: row.ID, Revision: v.Rev, Fields: map[string]any{}})
	}
	return out, nil
}

func (d *database) View(ctx context.Context, ddoc, view string, q models.ViewQuery) (models.ViewResult, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	if q.HasKey {
		if err := jsonArg(args, "key", q.Key); err != nil {
			return models.ViewResult{}, err
		}
	} else {
		if q.StartKey != nil {
			if err := jsonArg(args, "startkey", q.StartKey); err != nil {
				return models.ViewResult{}, err
			}
		}
		if q.EndKey != nil {
			if err := jsonArg(args, "endkey", q.EndKey); err != nil {
				return models.ViewResult{}, err
			}
		}
	}
	if q.Reduce != nil {
		args.Add("reduce", strconv.FormatBool(*q.Reduce))
	}
	if q.Group {
		args.Add("group", "true")
	}
	if q.IncludeDocs {
		args.Add("include_docs", "true")
	}
	pageArgs(args, q.Limit, q.Skip)

	path := d.path + "/_design/" + escapeSegment(ddoc) + "/_view/" + escapeSegment(view)
	raw, err := d.s.do(ctx, fasthttp.MethodGet, path, args, nil)
	if err != nil {
		return models.ViewResult{}, err
	}
	var rr rowsResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return models.ViewResult{}, fmt.Errorf("decode view: %w", err)
	}
	res := models.ViewResult{TotalRows: rr.TotalRows, Offset: rr.Offset, Rows: make([]models.ViewRow, 0, len(rr.Rows))}
	for _, row := range rr.Rows {
		vr := models.ViewRow{ID: row.ID, Key: row.Key}
		if len(row.Value) > 0 {
			if err := json.Unmarshal(row.Value, &vr.Value); err != nil {
				return models.ViewResult{}, fmt.Errorf("decode view value: %w", err)
			}
			if row.ID == "" {
				// reduce rows carry no id
				vr.Value = integral(vr.Value)
			}
		}
		if len(row.Doc) > 0 && string(row.Doc) != "null" {
			doc, err := decodeDocument(row.Doc)
			if err != nil {
				return models.ViewResult{}, err
			}
			vr.Doc = &doc
		}
		res.Rows = append(res.Rows, vr)
	}
	return res, nil
}

// Compact asks the server to compact the database file. The server purges
// superseded revisions on its own schedule, so no tombstones are counted.
func (d *database) Compact(ctx context.Context, _ time.Time) (int, error) {
	_, err := d.s.do(ctx, fasthttp.MethodPost, d.path+"/_compact", nil, map[string]any{})
	return 0, err
}

func pageArgs(args *fasthttp.Args, limit, skip int) {
	if limit > 0 {
		args.Add("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		args.Add("skip", strconv.Itoa(skip))
	}
}

func escapeSegment(s string) string {
	return url.PathEscape(s)
}

// decodeDocument lifts _id/_rev and drops the remaining server-owned members.
func decodeDocument(raw []byte) (models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Document{}, fmt.Errorf("decode document: %w", err)
	}
	for k := range doc.Fields {
		if strings.HasPrefix(k, "_") {
			delete(doc.Fields, k)
		}
	}
	return doc, nil
}

// integral turns whole float64 counts into int64 so reduce results have the
// same type as the embedded engine's.
func integral(v any) any {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return v
	}
	return int64(f)
}
