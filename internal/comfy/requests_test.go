package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	return New(host, WithSessionID("test-session"), WithPollInterval(10*time.Millisecond)), srv
}

func TestSubmitQueuesWorkflow(t *testing.T) {
	var gotBody promptRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode prompt request: %v", err)
		}
		fmt.Fprint(w, `{"prompt_id": "abc-123", "number": 5}`)
	}))

	promptID, err := c.Submit(context.Background(), json.RawMessage(`{"3": {"class_type": "KSampler"}}`))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if promptID != "abc-123" {
		t.Errorf("Expected prompt ID abc-123, got %s", promptID)
	}
	if gotBody.ClientID != "test-session" {
		t.Errorf("Expected client_id test-session, got %s", gotBody.ClientID)
	}
	if !strings.Contains(string(gotBody.Prompt), "KSampler") {
		t.Errorf("Workflow not forwarded verbatim: %s", gotBody.Prompt)
	}
	if _, ok := c.reg.lookup("abc-123"); !ok {
		t.Error("Submit did not register the prompt for completion tracking")
	}
}

func TestSubmitSurfacesEngineRejection(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"type": "invalid_prompt", "message": "Cannot execute because node KSampler does not exist.", "details": "Node ID '#41'"}, "node_errors": {}}`)
	}))

	_, err := c.Submit(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, ErrEngineRejected) {
		t.Fatalf("Expected ErrEngineRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "Cannot execute because node KSampler does not exist.") {
		t.Errorf("Engine message not surfaced verbatim: %v", err)
	}
	if !strings.Contains(err.Error(), "Node ID '#41'") {
		t.Errorf("Engine details not surfaced: %v", err)
	}
}

func TestSubmitRejectionWithoutStructuredError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "internal server error")
	}))

	_, err := c.Submit(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, ErrEngineRejected) {
		t.Fatalf("Expected ErrEngineRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected raw status in error, got %v", err)
	}
}

func TestSubmitUnreachableEngine(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	c := New(host)
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, ErrEngineUnreachable) {
		t.Fatalf("Expected ErrEngineUnreachable, got %v", err)
	}
}

func TestFetchOutput(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filename") != "out.png" || q.Get("subfolder") != "sub" || q.Get("type") != "output" {
			t.Errorf("Unexpected query: %v", q)
		}
		w.Write([]byte("fake png bytes"))
	}))

	data, err := c.FetchOutput(context.Background(), OutputRef{NodeID: "9", Filename: "out.png", Subfolder: "sub", Type: "output"})
	if err != nil {
		t.Fatalf("FetchOutput failed: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Errorf("Unexpected data: %q", data)
	}
}

func TestFetchOutputMissing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchOutput(context.Background(), OutputRef{Filename: "gone.png", Type: "output"})
	if !errors.Is(err, ErrOutputMissing) {
		t.Fatalf("Expected ErrOutputMissing, got %v", err)
	}
}

func TestUploadImage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if r.FormValue("overwrite") != "true" || r.FormValue("type") != "input" {
			t.Errorf("Unexpected form values: overwrite=%s type=%s", r.FormValue("overwrite"), r.FormValue("type"))
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("Missing image part: %v", err)
		}
		defer file.Close()
		if header.Filename != "input.png" {
			t.Errorf("Expected filename input.png, got %s", header.Filename)
		}
		fmt.Fprint(w, `{"name": "input.png", "subfolder": "", "type": "input"}`)
	}))

	name, err := c.UploadImage(context.Background(), "input.png", []byte("pixels"), true)
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if name != "input.png" {
		t.Errorf("Expected server-chosen name input.png, got %s", name)
	}
}

func TestAwaitByPollingRecoversCompletion(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/p1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		calls++
		if calls < 3 {
			// engine has no record yet
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"p1": {"outputs": {"9": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}}, "status": {"status_str": "success", "completed": true}}}`)
	}))

	ev, err := c.awaitByPolling(context.Background(), "p1", 2*time.Second)
	if err != nil {
		t.Fatalf("awaitByPolling failed: %v", err)
	}
	if !ev.Success {
		t.Error("Expected success")
	}
	if len(ev.Outputs) != 1 || ev.Outputs[0].NodeID != "9" || ev.Outputs[0].Filename != "out.png" {
		t.Errorf("Unexpected outputs: %+v", ev.Outputs)
	}
	if calls < 3 {
		t.Errorf("Expected at least 3 polls, got %d", calls)
	}
}

func TestAwaitByPollingReportsEngineFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"p1": {"outputs": {}, "status": {"status_str": "error", "completed": true}}}`)
	}))

	ev, err := c.awaitByPolling(context.Background(), "p1", time.Second)
	if err != nil {
		t.Fatalf("awaitByPolling failed: %v", err)
	}
	if ev.Success {
		t.Error("Expected failure event")
	}
	if ev.Err == nil {
		t.Fatal("Expected error payload")
	}
}

func TestAwaitByPollingHonorsPollBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)
	c := New(strings.TrimPrefix(srv.URL, "http://"),
		WithPollInterval(time.Millisecond),
		WithPollBudget(3),
	)

	_, err := c.awaitByPolling(context.Background(), "p1", time.Minute)
	if !errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("Expected ErrEngineTimeout, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 polls, got %d", calls)
	}
}

func TestAwaitByPollingTimesOut(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	_, err := c.awaitByPolling(context.Background(), "p1", 50*time.Millisecond)
	if !errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("Expected ErrEngineTimeout, got %v", err)
	}
}
