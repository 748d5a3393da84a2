package ollama

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wanjiru/amri/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newChatServer returns a server that replies to /api/chat with the given
// responses in order, repeating the last one when exhausted.
func newChatServer(t *testing.T, replies ...string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		reply := replies[min(calls, len(replies)-1)]
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGenerateCommand_PlainReply(t *testing.T) {
	srv, _ := newChatServer(t, "ls -la")
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	gen, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "list all files"})
	if err != nil {
		t.Fatalf("GenerateCommand: %v", err)
	}
	if gen.Command != "ls -la" {
		t.Errorf("command = %q, want %q", gen.Command, "ls -la")
	}
	if gen.IsQuestion() {
		t.Error("expected a command generation")
	}
}

func TestGenerateCommand_StripsMarkdownAndPrompt(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"```sh\ndf -h\n```", "df -h"},
		{"```\ndf -h\n```", "df -h"},
		{"$ df -h", "df -h"},
		{"`df -h`", "df -h"},
	}
	for _, tt := range tests {
		srv, _ := newChatServer(t, tt.reply)
		c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

		gen, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "disk usage"})
		if err != nil {
			t.Fatalf("GenerateCommand(%q): %v", tt.reply, err)
		}
		if gen.Command != tt.want {
			t.Errorf("reply %q: command = %q, want %q", tt.reply, gen.Command, tt.want)
		}
	}
}

func TestGenerateCommand_QuestionGetsAnswer(t *testing.T) {
	srv, calls := newChatServer(t, "A pipe connects the output of one process to the input of another.")
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	gen, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "what is a pipe?"})
	if err != nil {
		t.Fatalf("GenerateCommand: %v", err)
	}
	if !gen.IsQuestion() {
		t.Fatalf("expected an answer, got %+v", gen)
	}
	if !strings.Contains(gen.Answer, "pipe connects") {
		t.Errorf("answer = %q", gen.Answer)
	}
	// Questions must not burn retries.
	if *calls != 1 {
		t.Errorf("chat calls = %d, want 1", *calls)
	}
}

func TestGenerateCommand_RetriesProseThenSucceeds(t *testing.T) {
	srv, calls := newChatServer(t,
		"Sure! To list files you can use the ls command.",
		"ls",
	)
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	gen, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "list files"})
	if err != nil {
		t.Fatalf("GenerateCommand: %v", err)
	}
	if gen.Command != "ls" {
		t.Errorf("command = %q, want ls", gen.Command)
	}
	if *calls != 2 {
		t.Errorf("chat calls = %d, want 2", *calls)
	}
}

func TestGenerateCommand_PersistentProseBecomesAnswer(t *testing.T) {
	srv, calls := newChatServer(t, "I cannot do that as a single command.")
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	gen, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "do something odd"})
	if err != nil {
		t.Fatalf("GenerateCommand: %v", err)
	}
	if !gen.IsQuestion() {
		t.Fatalf("expected prose fallback, got %+v", gen)
	}
	if *calls != maxAttempts {
		t.Errorf("chat calls = %d, want %d", *calls, maxAttempts)
	}
}

func TestGenerateCommand_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	if _, err := c.GenerateCommand(context.Background(), &llm.Request{Input: "list files"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestExplain(t *testing.T) {
	srv, _ := newChatServer(t, "  Lists files including hidden ones.  ")
	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))

	got, err := c.Explain(context.Background(), "ls -la", "")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if got != "Lists files including hidden ones." {
		t.Errorf("explanation = %q", got)
	}
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "test-model:latest"}},
		})
	}))
	defer srv.Close()

	c := NewClient("test-model", testLogger(), WithBaseURL(srv.URL))
	if err := c.Available(context.Background()); err != nil {
		t.Errorf("Available: %v, want nil (tag suffix should match)", err)
	}

	missing := NewClient("other-model", testLogger(), WithBaseURL(srv.URL))
	if err := missing.Available(context.Background()); err == nil {
		t.Error("expected error for unpulled model")
	}

	down := NewClient("test-model", testLogger(), WithBaseURL("http://127.0.0.1:1"))
	if err := down.Available(context.Background()); err == nil {
		t.Error("expected error when the server is unreachable")
	}
}

func TestExtractCommand(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"ls -la", "ls -la", true},
		{"grep -r TODO .", "grep -r TODO .", true},
		{"Here is the command: use ls", "", false},
		{"ls -la\nrm foo", "", false},
		{"Would you like the recursive version?", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := extractCommand(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("extractCommand(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}
