package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/sangam/internal/api"
	"github.com/kalambet/sangam/internal/config"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	Owner       string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.EscapedPath(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			Owner:       r.Header.Get(api.OwnerHeader),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.EscapedPath()
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		owner:      "u1",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestUploadFile_Multipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /upload/document": `{"name":"notes.md","kind":"document","status":"queued","job_id":"job-1"}`,
	})

	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\nhello"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := ts.client().upload(ctx, "/upload/document", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r receipt
	if err := decodeJSON(resp, &r); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if r.JobID != "job-1" || r.Status != "queued" {
		t.Errorf("receipt = %+v", r)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if !strings.HasPrefix(req.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q, want multipart", req.ContentType)
	}
	if !strings.Contains(req.Body, `filename="notes.md"`) || !strings.Contains(req.Body, "# Notes\nhello") {
		t.Errorf("multipart body missing file: %q", req.Body)
	}
	if req.Owner != "u1" {
		t.Errorf("owner = %q, want u1", req.Owner)
	}
}

func TestUploadFile_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.client().upload(ctx, "/upload/document", filepath.Join(t.TempDir(), "nope.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestUploadTranscriptCommand_MissingURL(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"upload", "transcript", "--text", "hello"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --url")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestAskOnce(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat/my%20guide.pdf": `{"answer":"Forty-two.","standalone_question":"q","source_chunks":[{"text":"the answer is 42","page":3,"source":"my guide.pdf","score":0.91}]}`,
	})

	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var out bytes.Buffer
	if err := askOnce(ctx, ts.client(), &out, "my guide.pdf", "what is it?", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "Forty-two.\n") {
		t.Errorf("output = %q, want answer first", got)
	}
	if !strings.Contains(got, "Source 1 my guide.pdf p.3 [score: 0.910]") {
		t.Errorf("output = %q, want source line", got)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "what is it?" {
		t.Errorf("question = %q", body["question"])
	}
}

func TestAskOnce_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"still indexing","type":"not_ready"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	err := askOnce(ctx, client, &bytes.Buffer{}, "doc", "q", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "server returned 409: still indexing" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestFilePath_EscapesName(t *testing.T) {
	tests := []struct {
		name, suffix, want string
	}{
		{"report.pdf", "", "/files/report.pdf"},
		{"my notes.txt", "/source", "/files/my%20notes.txt/source"},
		{"a/b.csv", "/table", "/files/a%2Fb.csv/table"},
	}
	for _, tt := range tests {
		if got := filePath(tt.name, tt.suffix); got != tt.want {
			t.Errorf("filePath(%q, %q) = %q, want %q", tt.name, tt.suffix, got, tt.want)
		}
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	client := &apiClient{
		baseURL:    "http://127.0.0.1:1",
		token:      "test",
		httpClient: &http.Client{Timeout: time.Second},
	}
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestNotices(t *testing.T) {
	oldColor, oldOut := noColor, messages
	defer func() { noColor, messages = oldColor, oldOut }()

	var buf bytes.Buffer
	messages = &buf
	noColor = true

	printSuccess("Deleted %s", "a.pdf")
	printError("%s: %v", "b.csv", "boom")
	printWarning("sangam is already running (PID %d)", 42)
	printStep("Watching %s", "/inbox")

	want := "✓ Deleted a.pdf\n✗ b.csv: boom\n! sangam is already running (PID 42)\n→ Watching /inbox\n"
	if buf.String() != want {
		t.Errorf("notices = %q, want %q", buf.String(), want)
	}
}

func TestPrintStatusAlignsValues(t *testing.T) {
	oldColor, oldOut := noColor, messages
	defer func() { noColor, messages = oldColor, oldOut }()

	var buf bytes.Buffer
	messages = &buf

	for _, nc := range []bool{true, false} {
		buf.Reset()
		noColor = nc
		printStatus("Server", "stopped")
		printStatus("Embed model", "%s", "nomic-embed-text")

		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		if len(lines) != 2 {
			t.Fatalf("noColor=%v: got %d lines: %q", nc, len(lines), buf.String())
		}
		col0 := strings.Index(lines[0], "stopped")
		col1 := strings.Index(lines[1], "nomic-embed-text")
		if col0 < 0 || col0 != col1 {
			t.Errorf("noColor=%v: values not aligned: %q", nc, lines)
		}
	}
}

func TestPrintFiles(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var out bytes.Buffer
	printFiles(&out, nil)
	if out.String() != "No content uploaded.\n" {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	printFiles(&out, []fileItem{
		{Name: "a.pdf", Kind: "document", Size: 2048, Ready: true},
		{Name: "talk", Kind: "transcript", Size: 10},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "ready") || !strings.HasSuffix(lines[0], "a.pdf") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "indexing") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestPrintTurns(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var out bytes.Buffer
	printTurns(&out, []turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}})
	if out.String() != "you: hi\nsangam: hello\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{2048, "2.0K"},
		{3 << 20, "3.0M"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestUploadEndpoint(t *testing.T) {
	if got := uploadEndpoint("/tmp/Sales.CSV"); got != "/upload/table" {
		t.Errorf("csv endpoint = %q", got)
	}
	if got := uploadEndpoint("/tmp/book.pdf"); got != "/upload/document" {
		t.Errorf("pdf endpoint = %q", got)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`plain failure`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/files")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "plain failure") {
		t.Errorf("error = %q, want status and body", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Generation.OpenRouterAPIKey = "sk-secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("secret leaked via %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("DEBUG").String() != "DEBUG" {
		t.Error("debug not parsed")
	}
	if parseLogLevel("warning").String() != "WARN" {
		t.Error("warning not parsed")
	}
	if parseLogLevel("bogus").String() != "INFO" {
		t.Error("unknown level should fall back to info")
	}
}
