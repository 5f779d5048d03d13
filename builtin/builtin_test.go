package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
)

func ictxFor(userID string) *core.InvokeContext {
	return core.NewInvokeContext(context.Background(), userID, "flow-1", "call-1", nil)
}

type fakeNotifier struct{ sent []Notification }

func (f *fakeNotifier) Send(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeSearch struct{}

func (fakeSearch) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	return []SearchResult{{Title: "result for " + query, URL: "https://example.com"}}, nil
}

type fakeBrowser struct{}

func (fakeBrowser) Navigate(_ context.Context, url string) (string, error) { return "Example", nil }
func (fakeBrowser) Extract(_ context.Context, selector string) (string, error) {
	return "text at " + selector, nil
}
func (fakeBrowser) Screenshot(_ context.Context) ([]byte, error) { return []byte{1, 2, 3}, nil }

type echoSandbox struct{ out any }

func (s echoSandbox) Run(_ context.Context, code string, _ map[string]any) (any, error) {
	if s.out != nil {
		return s.out, nil
	}
	return "ran: " + code, nil
}

func TestRegisterAll(t *testing.T) {
	catalog := capability.NewCatalog()
	c := Defaults()
	c.Notifier = &fakeNotifier{}
	c.Scheduler = NewCronScheduler(nil)
	c.Fetcher = NewHTTPFetcher(nil)
	c.Search = fakeSearch{}
	c.Browser = fakeBrowser{}
	c.Sandbox = echoSandbox{}

	require.NoError(t, RegisterAll(catalog, c))

	for _, id := range []string{"todo", "notify", "schedule", "fetch", "search", "browser", "code_execute", "secrets", "goals", "skills"} {
		cfg, _, ok := catalog.Get(id)
		require.True(t, ok, "capability %s missing", id)
		assert.True(t, cfg.Enabled)
	}

	cfg, _, _ := catalog.Get("browser")
	assert.Equal(t, capability.CategoryDelegatedBrowser, cfg.Category)
	cfg, _, _ = catalog.Get("fetch")
	assert.Equal(t, capability.CategoryExternalAPI, cfg.Category)
}

func TestRegisterAllSkipsNilCollaborators(t *testing.T) {
	catalog := capability.NewCatalog()
	require.NoError(t, RegisterAll(catalog, Collaborators{Todos: NewInMemoryTodoStore()}))

	assert.Equal(t, 1, catalog.Len())
	_, _, ok := catalog.Get("notify")
	assert.False(t, ok)
}

func TestTodoHandlerLifecycle(t *testing.T) {
	h := NewTodoHandler(NewInMemoryTodoStore())
	ictx := ictxFor("user-1")

	created, err := h.Execute(ictx, "create", map[string]any{"title": "buy milk", "notes": "2%"})
	require.NoError(t, err)
	todo := created.(Todo)
	assert.Equal(t, "buy milk", todo.Title)
	assert.Equal(t, "user-1", todo.UserID)

	listed, err := h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	require.Len(t, listed.([]Todo), 1)

	_, err = h.Execute(ictx, "complete", map[string]any{"id": todo.ID})
	require.NoError(t, err)

	listed, err = h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	assert.Empty(t, listed.([]Todo), "completed items hidden by default")

	listed, err = h.Execute(ictx, "list", map[string]any{"include_done": true})
	require.NoError(t, err)
	require.Len(t, listed.([]Todo), 1)
	assert.True(t, listed.([]Todo)[0].Done)

	_, err = h.Execute(ictx, "delete", map[string]any{"id": todo.ID})
	require.NoError(t, err)
}

func TestTodoHandlerScopedPerUser(t *testing.T) {
	h := NewTodoHandler(NewInMemoryTodoStore())

	_, err := h.Execute(ictxFor("user-1"), "create", map[string]any{"title": "mine"})
	require.NoError(t, err)

	listed, err := h.Execute(ictxFor("user-2"), "list", nil)
	require.NoError(t, err)
	assert.Empty(t, listed.([]Todo))
}

func TestTodoHandlerValidation(t *testing.T) {
	h := NewTodoHandler(NewInMemoryTodoStore())

	_, err := h.Execute(ictxFor("user-1"), "create", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'title'")
	assert.Equal(t, capability.CodeValidation, capability.CodeOf(err))

	_, err = h.Execute(ictxFor("user-1"), "archive", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action 'archive'")
	assert.Contains(t, err.Error(), "create, list, complete, delete")
}

func TestNotifyHandler(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewNotifyHandler(notifier)

	data, err := h.Execute(ictxFor("user-1"), "send", map[string]any{
		"title":   "Reminder",
		"message": "meeting in 10 minutes",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sent": true}, data)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "user-1", notifier.sent[0].UserID)
	assert.Equal(t, "meeting in 10 minutes", notifier.sent[0].Message)
}

func TestScheduleHandler(t *testing.T) {
	s := NewCronScheduler(nil)
	defer s.Stop()
	h := NewScheduleHandler(s)
	ictx := ictxFor("user-1")

	created, err := h.Execute(ictx, "create", map[string]any{
		"cron":        "0 9 * * *",
		"description": "morning summary",
	})
	require.NoError(t, err)
	task := created.(ScheduledTask)
	assert.NotEmpty(t, task.ID)

	listed, err := h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	require.Len(t, listed.([]ScheduledTask), 1)

	_, err = h.Execute(ictx, "cancel", map[string]any{"id": task.ID})
	require.NoError(t, err)

	listed, err = h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	assert.Empty(t, listed.([]ScheduledTask))
}

func TestScheduleHandlerRejectsInvalidSpec(t *testing.T) {
	s := NewCronScheduler(nil)
	defer s.Stop()
	h := NewScheduleHandler(s)

	_, err := h.Execute(ictxFor("user-1"), "create", map[string]any{
		"cron":        "not a cron spec",
		"description": "broken",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")
}

func TestCronSchedulerFires(t *testing.T) {
	fired := make(chan ScheduledTask, 1)
	s := NewCronScheduler(func(task ScheduledTask) {
		select {
		case fired <- task:
		default:
		}
	})
	defer s.Stop()

	_, err := s.Create(context.Background(), ScheduledTask{
		UserID:      "user-1",
		CronSpec:    "@every 10ms",
		Description: "tick",
	})
	require.NoError(t, err)

	select {
	case task := <-fired:
		assert.Equal(t, "tick", task.Description)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestFetchHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "valet", r.Header.Get("X-Client"))
		fmt.Fprint(w, "hello from server")
	}))
	defer srv.Close()

	h := NewFetchHandler(NewHTTPFetcher(srv.Client()))
	data, err := h.Execute(ictxFor("user-1"), "", map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Client": "valet"},
	})
	require.NoError(t, err)
	resp := data.(FetchResponse)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from server", resp.Body)
}

func TestFetchHandlerRejectsNonHTTPScheme(t *testing.T) {
	h := NewFetchHandler(NewHTTPFetcher(nil))

	_, err := h.Execute(ictxFor("user-1"), "", map[string]any{"url": "file:///etc/passwd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported url scheme")
}

func TestFetchTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", MaxFetchBodySize+100))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	resp, err := f.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, MaxFetchBodySize)
}

func TestSearchHandler(t *testing.T) {
	h := NewSearchHandler(fakeSearch{})

	data, err := h.Execute(ictxFor("user-1"), "", map[string]any{"query": "go concurrency"})
	require.NoError(t, err)
	results := data.([]SearchResult)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Title, "go concurrency")
}

func TestBrowserHandler(t *testing.T) {
	h := NewBrowserHandler(fakeBrowser{})
	ictx := ictxFor("user-1")

	data, err := h.Execute(ictx, "navigate", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Example"}, data)

	data, err = h.Execute(ictx, "extract", map[string]any{"selector": "h1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "text at h1"}, data)

	_, err = h.Execute(ictx, "click", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigate, extract, screenshot")
}

func TestCodeExecuteHandler(t *testing.T) {
	h := NewCodeExecuteHandler(echoSandbox{})

	data, err := h.Execute(ictxFor("user-1"), "", map[string]any{"code": "print(1)"})
	require.NoError(t, err)
	assert.Equal(t, "ran: print(1)", data)
}

func TestLimitedSandboxRejectsOversizedCode(t *testing.T) {
	s := NewLimitedSandbox(echoSandbox{})

	_, err := s.Run(context.Background(), strings.Repeat("a", MaxCodeSize+1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestLimitedSandboxTruncatesOutput(t *testing.T) {
	s := NewLimitedSandbox(echoSandbox{out: strings.Repeat("y", MaxOutputSize+500)})

	data, err := s.Run(context.Background(), "code", nil)
	require.NoError(t, err)
	out := data.(string)
	assert.Contains(t, out, "[output truncated to")
	assert.Less(t, len(out), MaxOutputSize+100)
}

type stuckSandbox struct{}

func (stuckSandbox) Run(ctx context.Context, _ string, _ map[string]any) (any, error) {
	time.Sleep(300 * time.Millisecond) // ignores cancellation
	return nil, ctx.Err()
}

func TestLimitedSandboxTimeout(t *testing.T) {
	s := NewLimitedSandbox(stuckSandbox{})
	s.timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := s.Run(context.Background(), "while True: pass", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), time.Second)
}

func TestSecretsHandlerNeverReturnsPlaintext(t *testing.T) {
	h := NewSecretsHandler(NewInMemoryVault())
	ictx := ictxFor("user-1")

	created, err := h.Execute(ictx, "create", map[string]any{"key": "OPENAI_API_KEY", "value": "sk-super-secret"})
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%v", created), "sk-super-secret")

	listed, err := h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%v", listed), "sk-super-secret")
	assert.Contains(t, fmt.Sprintf("%v", listed), "OPENAI_API_KEY")

	exists, err := h.Execute(ictx, "exists", map[string]any{"key": "OPENAI_API_KEY"})
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%v", exists), "sk-super-secret")

	// There is no read action at all.
	_, err = h.Execute(ictx, "get", map[string]any{"key": "OPENAI_API_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create, list, exists")
}

func TestSecretsHandlerDuplicateKey(t *testing.T) {
	h := NewSecretsHandler(NewInMemoryVault())
	ictx := ictxFor("user-1")

	_, err := h.Execute(ictx, "create", map[string]any{"key": "K", "value": "v1"})
	require.NoError(t, err)
	_, err = h.Execute(ictx, "create", map[string]any{"key": "K", "value": "v2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestGoalsHandler(t *testing.T) {
	h := NewGoalsHandler(NewInMemoryGoalStore())
	ictx := ictxFor("user-1")

	created, err := h.Execute(ictx, "create", map[string]any{"title": "run a marathon"})
	require.NoError(t, err)
	goal := created.(Goal)

	achieved, err := h.Execute(ictx, "achieve", map[string]any{"id": goal.ID})
	require.NoError(t, err)
	assert.True(t, achieved.(Goal).Achieved)

	listed, err := h.Execute(ictx, "list", nil)
	require.NoError(t, err)
	require.Len(t, listed.([]Goal), 1)
}

func TestSkillsHandler(t *testing.T) {
	h := NewSkillsHandler(NewInMemorySkillStore())
	ictx := ictxFor("user-1")

	_, err := h.Execute(ictx, "add", map[string]any{
		"name":         "Weekly-Report",
		"instructions": "summarize commits, group by project",
	})
	require.NoError(t, err)

	got, err := h.Execute(ictx, "get", map[string]any{"name": "weekly-report"})
	require.NoError(t, err)
	assert.Equal(t, "summarize commits, group by project", got.(Skill).Instructions)

	_, err = h.Execute(ictx, "get", map[string]any{"name": "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
