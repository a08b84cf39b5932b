package models

// ListOptions selects a key range of raw documents. Both bounds are inclusive;
// an empty bound is open. Skip is applied after range filtering and before
// Limit. A zero Limit means no limit.
type ListOptions struct {
	StartKey    string
	EndKey      string
	Limit       int
	Skip        int
	IncludeDocs bool
}

// FindQuery is a structured selector filter.
type FindQuery struct {
	Selector map[string]any `json:"selector"`
	Limit    int            `json:"limit,omitempty"`
	Skip     int            `json:"skip,omitempty"`
}

// ViewQuery is a lookup against a named view. A nil StartKey or EndKey is an
// open bound. Reduce nil means the view's default: aggregate when the view
// declares a reduce.
type ViewQuery struct {
	Key         any
	HasKey      bool
	StartKey    any
	EndKey      any
	Reduce      *bool
	Group       bool
	IncludeDocs bool
	Limit       int
	Skip        int
}

// ByKey returns a copy of q restricted to a single grouping key.
func (q ViewQuery) ByKey(key any) ViewQuery {
	q.Key = key
	q.HasKey = true
	return q
}

// WithReduce returns a copy of q with aggregation forced on or off.
func (q ViewQuery) WithReduce(on bool) ViewQuery {
	q.Reduce = &on
	return q
}

type ViewRow struct {
	ID    string    `json:"id,omitempty"`
	Key   any       `json:"key"`
	Value any       `json:"value"`
	Doc   *Document `json:"doc,omitempty"`
}

type ViewResult struct {
	TotalRows int       `json:"total_rows,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	Rows      []ViewRow `json:"rows"`
}
