package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/naturalis/percolator/internal/pkg/httpretry"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

// State classifies one audit event, per §4.8.
type State string

const (
	StateStart  State = "start"
	StateFinish State = "finish"
	StateFail   State = "fail"
	StateImport State = "import"
	StateNew    State = "new"
	StateUpdate State = "update"
	StateDelete State = "delete"
	StateKill   State = "kill"
	StateEnrich State = "enrich"
)

// Event is the structured envelope shipped to the external document log
// (§4.8), stored under index = lowercased job id, document id = Recid when
// present. No document type is sent with it, and no field of Event carries
// the value "logging".
type Event struct {
	Timestamp    time.Time `json:"@timestamp"`
	PPDTimestamp int64     `json:"ppd_timestamp"`
	State        State     `json:"state"`
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	Recid        string    `json:"recid,omitempty"`
	Comment      string    `json:"comment,omitempty"`
}

// roundTripper adapts httpretry.RetryClient (an HTTPDoer) to
// http.RoundTripper, the interface the elasticsearch client's transport
// hook expects, so both external collaborators (§4.8, §4.9) share one
// retrying HTTP client implementation.
type roundTripper struct {
	doer *httpretry.RetryClient
}

func (r roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return r.doer.Do(req)
}

// Logger ships audit events to the external document log, falling back
// to the local application logger on any transport failure.
type Logger struct {
	es *elasticsearch.Client
}

// New returns a Logger addressing the given document-indexing endpoint.
// An empty url disables shipping entirely; every event is only logged
// locally, matching the Notifier's "silent when unconfigured" posture.
func New(url string, timeout time.Duration, maxRetries int) (*Logger, error) {
	if url == "" {
		return &Logger{}, nil
	}
	retrying := httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries)
	cfg := elasticsearch.Config{
		Addresses: []string{url},
		Transport: roundTripper{doer: retrying},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("auditlog: build client: %w", err)
	}
	return &Logger{es: client}, nil
}

// Emit ships one Event under the lowercased jobID index. Transport
// failures are swallowed and logged locally (§7(b)); they are never
// returned to the caller so the pipeline never aborts over them.
func (l *Logger) Emit(ctx context.Context, jobID string, ev Event) {
	if l == nil || l.es == nil {
		logger.Info("audit event", "job", jobID, "state", ev.State, "type", ev.Type,
			"source", ev.Source, "recid", ev.Recid, "comment", ev.Comment)
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Error("audit: encode event", "error", err.Error())
		return
	}

	index := strings.ToLower(jobID)
	if err := l.index(ctx, index, ev.Recid, body); err != nil {
		logger.Warn("audit: ship event failed, logged locally", "job", jobID,
			"state", ev.State, "error", err.Error())
	}
}

// index ships one document to the given index, with the event's recid as
// the document id when present. No document type is set on the request.
func (l *Logger) index(ctx context.Context, index, docID string, body []byte) error {
	var (
		res *esapi.Response
		err error
	)
	if docID != "" {
		res, err = l.es.Index(index, bytes.NewReader(body),
			l.es.Index.WithContext(ctx), l.es.Index.WithDocumentID(docID))
	} else {
		res, err = l.es.Index(index, bytes.NewReader(body), l.es.Index.WithContext(ctx))
	}
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("auditlog: index returned %s", res.Status())
	}
	return nil
}

// EmitStart is a convenience for the job-level "start" event.
func (l *Logger) EmitStart(ctx context.Context, jobID, source string) {
	l.Emit(ctx, jobID, Event{Timestamp: time.Now().UTC(), PPDTimestamp: time.Now().UnixMilli(), State: StateStart, Source: source})
}

// EmitFinish is a convenience for the job-level "finish" event.
func (l *Logger) EmitFinish(ctx context.Context, jobID, source, comment string) {
	l.Emit(ctx, jobID, Event{Timestamp: time.Now().UTC(), PPDTimestamp: time.Now().UnixMilli(), State: StateFinish, Source: source, Comment: comment})
}

// EmitFail is a convenience for a file-level or job-level "fail" event.
func (l *Logger) EmitFail(ctx context.Context, jobID, source, comment string) {
	l.Emit(ctx, jobID, Event{Timestamp: time.Now().UTC(), PPDTimestamp: time.Now().UnixMilli(), State: StateFail, Source: source, Comment: comment})
}

// EmitRecord is a convenience for a per-record event (new/update/delete/
// kill/enrich), carrying the record's logical id and type (index name).
func (l *Logger) EmitRecord(ctx context.Context, jobID string, state State, typ, source, recid string) {
	l.Emit(ctx, jobID, Event{
		Timestamp:    time.Now().UTC(),
		PPDTimestamp: time.Now().UnixMilli(),
		State:        state,
		Type:         typ,
		Source:       source,
		Recid:        recid,
	})
}
