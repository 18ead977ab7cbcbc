package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/ledger"
	"github.com/statline-ai/statline/pkg/models"
)

type fakeAsker struct {
	ans    models.Answer
	err    error
	chunks []string
	got    AskRequest
}

func (f *fakeAsker) Ask(_ context.Context, text, model string, onChunk func(string)) (models.Answer, error) {
	f.got = AskRequest{Query: text, Model: model, Stream: onChunk != nil}
	if onChunk != nil {
		for _, c := range f.chunks {
			onChunk(c)
		}
	}
	return f.ans, f.err
}

var testAnswer = models.Answer{
	QueryID:   "q-1",
	Text:      "Jokic averaged 8.3 assists [p1].",
	Citations: []models.Citation{{ID: "p1", SourceType: models.SourcePlayer, Score: 0.9}},
	Cost:      0.07,
	Model:     "gpt-4o-mini",
	Intent:    models.IntentStatistics,
}

func setupServer(t *testing.T, a *fakeAsker) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(nil, nil)
	srv := httptest.NewServer(New(":0", a, l, nil))
	t.Cleanup(srv.Close)
	return srv, l
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/ask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskJSON(t *testing.T) {
	a := &fakeAsker{ans: testAnswer}
	srv, _ := setupServer(t, a)

	resp := post(t, srv.URL, `{"query":"How many assists?","model":"gpt-4o-mini"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "q-1", got["query_id"])
	assert.Equal(t, testAnswer.Text, got["answer_text"])
	assert.Len(t, got["evidence_citations"], 1)
	assert.Equal(t, false, got["cache_hit"])
	assert.Equal(t, AskRequest{Query: "How many assists?", Model: "gpt-4o-mini"}, a.got)
}

func TestAskRejectsGet(t *testing.T) {
	srv, _ := setupServer(t, &fakeAsker{})
	resp, err := http.Get(srv.URL + "/v1/ask")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAskInvalidBody(t *testing.T) {
	srv, _ := setupServer(t, &fakeAsker{})
	resp := post(t, srv.URL, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body apiError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_input", body.Error.Type)
}

func TestAskErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", errs.Wrap(errors.New("empty"), errs.CategoryInvalidInput, "empty_query", false), http.StatusBadRequest},
		{"budget exceeded", errs.Wrap(errors.New("over"), errs.CategoryBudgetExceeded, "budget_exceeded", false), http.StatusTooManyRequests},
		{"transient", errs.Transient(errors.New("503"), "upstream_error"), http.StatusServiceUnavailable},
		{"permanent", errs.Permanent(errors.New("400"), "request_rejected"), http.StatusBadGateway},
		{"budget violation", errs.Wrap(errors.New("template"), errs.CategoryBudgetViolation, "template_over_budget", false), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupServer(t, &fakeAsker{err: tt.err})
			resp := post(t, srv.URL, `{"query":"q"}`)
			assert.Equal(t, tt.want, resp.StatusCode)

			var body apiError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, string(errs.CategoryOf(tt.err)), body.Error.Type)
			assert.Equal(t, errs.CodeOf(tt.err), body.Error.Code)
		})
	}
}

type event struct {
	name string
	data string
}

func readEvents(t *testing.T, r io.Reader) []event {
	t.Helper()
	var (
		events []event
		cur    event
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = event{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestAskStream(t *testing.T) {
	a := &fakeAsker{ans: testAnswer, chunks: []string{"Jokic averaged ", "8.3 assists [p1]."}}
	srv, _ := setupServer(t, a)

	resp := post(t, srv.URL, `{"query":"q","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.True(t, a.got.Stream)

	events := readEvents(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, event{"chunk", `{"text":"Jokic averaged "}`}, events[0])
	assert.Equal(t, event{"chunk", `{"text":"8.3 assists [p1]."}`}, events[1])
	assert.Equal(t, "answer", events[2].name)

	var ans models.Answer
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &ans))
	assert.Equal(t, "q-1", ans.QueryID)
}

func TestAskStreamErrorBeforeFirstChunk(t *testing.T) {
	srv, _ := setupServer(t, &fakeAsker{err: errs.Wrap(errors.New("over"), errs.CategoryBudgetExceeded, "budget_exceeded", false)})

	resp := post(t, srv.URL, `{"query":"q","stream":true}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestAskStreamErrorAfterChunk(t *testing.T) {
	a := &fakeAsker{chunks: []string{"Jokic"}, err: errs.Transient(errors.New("reset"), "network")}
	srv, _ := setupServer(t, a)

	resp := post(t, srv.URL, `{"query":"q","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "chunk", events[0].name)
	assert.Equal(t, "error", events[1].name)

	var body apiError
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &body))
	assert.Equal(t, "generation_transient", body.Error.Type)
	assert.Equal(t, "network", body.Error.Code)
}

func TestLedgerEndpoint(t *testing.T) {
	srv, l := setupServer(t, &fakeAsker{})
	require.NoError(t, l.Record(context.Background(), ledger.Charge{
		QueryID:     "q-1",
		Model:       "gpt-4o-mini",
		CacheStatus: models.CacheMiss,
		Usage:       models.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		Cost:        0.08,
	}))

	resp, err := http.Get(srv.URL + "/v1/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap ledger.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.EqualValues(t, 1, snap.QueriesServed)
	assert.EqualValues(t, 120, snap.TotalTokens)
	assert.InDelta(t, 0.08, snap.Cost, 1e-9)
	assert.Contains(t, snap.ByModel, "gpt-4o-mini")
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, &fakeAsker{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "statline_retrieval_degraded_total")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", &fakeAsker{}, ledger.New(nil, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
