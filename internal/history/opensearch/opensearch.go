package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/loykin/scriptdeck/internal/history"
)

// IndexDateLayout is appended to the index prefix, one index per UTC day.
const IndexDateLayout = "2006.01.02"

// Sink indexes script lifecycle events into daily OpenSearch indices named
// <prefix>-YYYY.MM.DD so retention can be managed by deleting old indices.
type Sink struct {
	client  *http.Client
	baseURL string
	prefix  string
}

// document is the indexed shape of an event. Group is the folder part of a
// nested identifier ("job" for "job/a.py") so dashboards can aggregate by it.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Script    string    `json:"script"`
	Group     string    `json:"group,omitempty"`
	PID       int       `json:"pid"`
	ExitError string    `json:"exit_error,omitempty"`
	Failed    bool      `json:"failed"`
}

func New(baseURL, prefix string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), prefix: prefix}
}

// Index returns the index an event occurring at t is written to.
func (s *Sink) Index(t time.Time) string {
	return s.prefix + "-" + t.UTC().Format(IndexDateLayout)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	b, err := json.Marshal(newDocument(e, at))
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.Index(at))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch index %s: status %d", s.Index(at), resp.StatusCode)
	}
	return nil
}

func newDocument(e history.Event, at time.Time) document {
	d := document{
		Timestamp: at.UTC(),
		Event:     string(e.Type),
		Script:    e.Script,
		PID:       e.PID,
		ExitError: e.ExitErr,
		Failed:    e.Type == history.EventExit && e.ExitErr != "",
	}
	if dir := path.Dir(e.Script); dir != "." {
		d.Group = dir
	}
	return d
}
