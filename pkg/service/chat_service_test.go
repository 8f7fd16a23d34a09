package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/models"
	"github.com/loomchat/loomchat/pkg/registry"
)

// ========== Test doubles ==========

// fakeChatModel streams a fixed reply.
type fakeChatModel struct {
	reply     string
	reasoning string
	genErr    error
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	msgs := []*schema.Message{{Role: schema.Assistant, Content: f.reply, ReasoningContent: f.reasoning}}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

// fakeResolver serves a one-entry catalog backed by fakeChatModel.
type fakeResolver struct {
	entry      *registry.Entry
	chatModel  model.ToolCallingChatModel
	resolveErr error
	modelErr   error
	lastID     string
}

func (f *fakeResolver) Resolve(id string) (*registry.Entry, error) {
	f.lastID = id
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.entry, nil
}

func (f *fakeResolver) ChatModel(ctx context.Context, e *registry.Entry) (model.ToolCallingChatModel, error) {
	if f.modelErr != nil {
		return nil, f.modelErr
	}
	return f.chatModel, nil
}

func testEntry() *registry.Entry {
	return &registry.Entry{ID: "openai:gpt-4o-mini", Provider: "openai", Model: "gpt-4o-mini", ToolCall: true}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatal(err)
	}
	return gdb
}

func newTestService(t *testing.T, resolver ModelResolver) (*ChatService, *gorm.DB) {
	t.Helper()
	gdb := openTestDB(t)
	cfg := &config.AppConfig{}
	svc := NewChatService(gdb, cfg, resolver, nil, nil, slog.Default())
	return svc, gdb
}

func drain(t *testing.T, chunks <-chan *models.StreamChunk) []*models.StreamChunk {
	t.Helper()
	var out []*models.StreamChunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatal("stream never closed")
		}
	}
}

func mustCreateThread(t *testing.T, svc *ChatService, userID, prompt string) *db.Thread {
	t.Helper()
	thread, err := svc.CreateThread(context.Background(), userID, &models.CreateThreadRequest{
		Model:  "openai:gpt-4o-mini",
		Prompt: prompt,
	})
	if err != nil {
		t.Fatal(err)
	}
	return thread
}

// ========== Thread creation ==========

func TestCreateThread_PersistsThreadAndFirstMessage(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})

	thread := mustCreateThread(t, svc, "user-1", "hello there")

	if thread.Token == "" {
		t.Fatal("thread has no public token")
	}
	if thread.Name != nil {
		t.Fatal("thread name should start nil")
	}

	var messages []db.ChatMessage
	if err := gdb.Where("thread_id = ?", thread.ID).Find(&messages).Error; err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Role != db.RoleUser || messages[0].Status != db.MessageStatusCompleted {
		t.Fatalf("first message = %s/%s", messages[0].Role, messages[0].Status)
	}
	if messages[0].TextContent() != "hello there" {
		t.Fatalf("first message text = %q", messages[0].TextContent())
	}
}

func TestCreateThread_UnknownModel_NoWrites(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{resolveErr: registry.ErrModelNotFound})

	_, err := svc.CreateThread(context.Background(), "user-1", &models.CreateThreadRequest{
		Model:  "nope:nope",
		Prompt: "hello",
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}

	var threadCount, msgCount int64
	gdb.Model(&db.Thread{}).Count(&threadCount)
	gdb.Model(&db.ChatMessage{}).Count(&msgCount)
	if threadCount != 0 || msgCount != 0 {
		t.Fatalf("writes happened despite invalid model: %d threads, %d messages", threadCount, msgCount)
	}
}

// ========== Streaming ==========

func TestStreamMessage_HappyPath(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "Hello brave world"}})
	thread := mustCreateThread(t, svc, "user-1", "hi")

	chunks, err := svc.StreamMessage(context.Background(), "user-1", thread.Token, &models.PostMessageRequest{
		Model:      "openai:gpt-4o-mini",
		NewMessage: "say hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, chunks)

	if len(events) == 0 || events[0].Type != models.ChunkTypeStart {
		t.Fatal("stream must open with a start chunk")
	}
	last := events[len(events)-1]
	if last.Type != models.ChunkTypeFinish || last.FinishReason != db.FinishReasonStop {
		t.Fatalf("last chunk = %+v, want finish/stop", last)
	}

	// Text arrives word by word and concatenates back to the full reply.
	var text strings.Builder
	for _, e := range events {
		if e.Type == models.ChunkTypeText {
			text.WriteString(e.Text)
		}
	}
	if text.String() != "Hello brave world" {
		t.Fatalf("streamed text = %q", text.String())
	}
	var wordChunks int
	for _, e := range events {
		if e.Type == models.ChunkTypeText {
			wordChunks++
		}
	}
	if wordChunks != 3 {
		t.Fatalf("got %d text chunks, want 3 word-level chunks", wordChunks)
	}

	var assistant db.ChatMessage
	err = gdb.Where("thread_id = ? AND role = ?", thread.ID, db.RoleAssistant).First(&assistant).Error
	if err != nil {
		t.Fatal(err)
	}
	if assistant.Status != db.MessageStatusCompleted {
		t.Fatalf("assistant status = %s", assistant.Status)
	}
	if assistant.TextContent() != "Hello brave world" {
		t.Fatalf("persisted text = %q", assistant.TextContent())
	}

	var runs, steps int64
	gdb.Model(&db.Run{}).Where("thread_id = ?", thread.ID).Count(&runs)
	gdb.Model(&db.RunStep{}).Count(&steps)
	if runs != 1 || steps != 1 {
		t.Fatalf("audit rows: %d runs, %d steps", runs, steps)
	}
}

func TestStreamMessage_UnknownModel_KeepsUserMessage(t *testing.T) {
	okResolver := &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}}
	svc, gdb := newTestService(t, okResolver)
	thread := mustCreateThread(t, svc, "user-1", "hi")

	okResolver.resolveErr = registry.ErrModelNotFound
	_, err := svc.StreamMessage(context.Background(), "user-1", thread.Token, &models.PostMessageRequest{
		Model:      "nope:nope",
		NewMessage: "my important draft",
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}

	// The typed message is already durable even though generation never ran.
	var saved db.ChatMessage
	err = gdb.Where("thread_id = ? AND role = ?", thread.ID, db.RoleUser).
		Order("created_at DESC").First(&saved).Error
	if err != nil {
		t.Fatal(err)
	}
	if saved.TextContent() != "my important draft" {
		t.Fatalf("user message text = %q", saved.TextContent())
	}

	var assistants int64
	gdb.Model(&db.ChatMessage{}).Where("thread_id = ? AND role = ?", thread.ID, db.RoleAssistant).Count(&assistants)
	if assistants != 0 {
		t.Fatal("no assistant message should exist after model resolution failure")
	}
}

func TestStreamMessage_UnknownModel_BumpsThreadActivity(t *testing.T) {
	okResolver := &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}}
	svc, gdb := newTestService(t, okResolver)
	thread := mustCreateThread(t, svc, "user-1", "hi")

	stale := time.Now().Add(-24 * time.Hour)
	gdb.Model(&db.Thread{}).Where("id = ?", thread.ID).
		Update("last_messaged_at", stale)

	okResolver.resolveErr = registry.ErrModelNotFound
	_, err := svc.StreamMessage(context.Background(), "user-1", thread.Token, &models.PostMessageRequest{
		Model:      "nope:nope",
		NewMessage: "still typed this",
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}

	// The durable user message moves the thread to the top of the listing
	// even though generation never started.
	var saved db.Thread
	if err := gdb.First(&saved, "id = ?", thread.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !saved.LastMessagedAt.After(stale.Add(time.Hour)) {
		t.Fatalf("last_messaged_at = %v, not bumped with the user message", saved.LastMessagedAt)
	}
}

func TestStreamMessage_EmptyModelUsesConfiguredDefault(t *testing.T) {
	resolver := &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "ok"}}
	gdb := openTestDB(t)
	defaultModel := "fake:default-model"
	cfg := &config.AppConfig{Models: config.ModelsConfig{Default: &defaultModel}}
	svc := NewChatService(gdb, cfg, resolver, nil, nil, slog.Default())
	thread := mustCreateThread(t, svc, "user-1", "hi")

	chunks, err := svc.StreamMessage(context.Background(), "user-1", thread.Token, &models.PostMessageRequest{
		NewMessage: "no model field sent",
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, chunks)

	if resolver.lastID != defaultModel {
		t.Fatalf("resolved %q, want configured default %q", resolver.lastID, defaultModel)
	}
}

func TestStreamMessage_ProviderFailure(t *testing.T) {
	resolver := &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}}
	svc, gdb := newTestService(t, resolver)
	thread := mustCreateThread(t, svc, "user-1", "hi")

	resolver.modelErr = errors.New("connection refused")
	chunks, err := svc.StreamMessage(context.Background(), "user-1", thread.Token, &models.PostMessageRequest{
		Model:      "openai:gpt-4o-mini",
		NewMessage: "hello?",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, chunks)

	var sawError, sawFinish bool
	for _, e := range events {
		if e.Type == models.ChunkTypeError {
			sawError = true
		}
		if e.Type == models.ChunkTypeFinish {
			sawFinish = true
		}
	}
	if !sawError || !sawFinish {
		t.Fatalf("failure stream missing error/finish chunks: %+v", events)
	}

	var assistant db.ChatMessage
	err = gdb.Where("thread_id = ? AND role = ?", thread.ID, db.RoleAssistant).First(&assistant).Error
	if err != nil {
		t.Fatal(err)
	}
	if assistant.Status != db.MessageStatusFailed || assistant.FinishReason != db.FinishReasonError {
		t.Fatalf("assistant = %s/%s, want failed/error", assistant.Status, assistant.FinishReason)
	}

	// The user message stayed durable through the failure.
	var userMsgs int64
	gdb.Model(&db.ChatMessage{}).Where("thread_id = ? AND role = ?", thread.ID, db.RoleUser).Count(&userMsgs)
	if userMsgs != 2 {
		t.Fatalf("got %d user messages, want 2", userMsgs)
	}
}

func TestFinalizeFailure_StepCapCompletes(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry()})
	thread := mustCreateThread(t, svc, "user-1", "hi")

	msg := &db.ChatMessage{
		ID:       "msg-1",
		ThreadID: thread.ID,
		Role:     db.RoleAssistant,
		Status:   db.MessageStatusStreaming,
		Parts:    db.Parts{{Type: db.PartTypeText, Text: "partial work"}},
	}
	if err := gdb.Create(msg).Error; err != nil {
		t.Fatal(err)
	}

	chunks := make(chan *models.StreamChunk, 10)
	svc.finalizeFailure(context.Background(), testEntry(), msg,
		errors.New("agent error: exceeds max iterations"), chunks)
	close(chunks)

	var saved db.ChatMessage
	if err := gdb.First(&saved, "id = ?", "msg-1").Error; err != nil {
		t.Fatal(err)
	}
	if saved.Status != db.MessageStatusCompleted {
		t.Fatalf("status = %s, want completed: hitting the step cap keeps the partial output", saved.Status)
	}
	if !strings.Contains(saved.TextContent(), "partial work") {
		t.Fatal("partial output lost")
	}

	// The cap is a normal completion: the notice arrives as text, never as an
	// error chunk, and the stream finishes with stop.
	var sawNotice bool
	var finishReason string
	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkTypeError:
			t.Fatal("step cap surfaced as an error chunk")
		case models.ChunkTypeText:
			if strings.Contains(chunk.Text, "maximum number of tool call steps") {
				sawNotice = true
			}
		case models.ChunkTypeFinish:
			finishReason = chunk.FinishReason
		}
	}
	if !sawNotice {
		t.Fatal("step cap notice missing from stream")
	}
	if finishReason != db.FinishReasonStop {
		t.Fatalf("finish reason = %q, want stop", finishReason)
	}
}

func TestFinalizeFailure_FullBufferStillDeliversTerminalChunks(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry()})
	thread := mustCreateThread(t, svc, "user-1", "hi")

	msg := &db.ChatMessage{
		ID:       "msg-2",
		ThreadID: thread.ID,
		Role:     db.RoleAssistant,
		Status:   db.MessageStatusStreaming,
	}
	if err := gdb.Create(msg).Error; err != nil {
		t.Fatal(err)
	}

	// Fill the buffer so a non-blocking send would drop the terminal chunks
	// while the client is merely slow, not gone.
	chunks := make(chan *models.StreamChunk, 2)
	chunks <- &models.StreamChunk{Type: models.ChunkTypeText, Text: "a "}
	chunks <- &models.StreamChunk{Type: models.ChunkTypeText, Text: "b"}

	go func() {
		svc.finalizeFailure(context.Background(), testEntry(), msg,
			errors.New("connection refused"), chunks)
		close(chunks)
	}()

	var sawError, sawFinish bool
	for _, e := range drain(t, chunks) {
		if e.Type == models.ChunkTypeError {
			sawError = true
		}
		if e.Type == models.ChunkTypeFinish {
			sawFinish = true
		}
	}
	if !sawError || !sawFinish {
		t.Fatalf("terminal chunks lost on full buffer: sawError=%v sawFinish=%v", sawError, sawFinish)
	}
}

func TestStreamMessage_OwnershipRequired(t *testing.T) {
	svc, _ := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})
	thread := mustCreateThread(t, svc, "user-1", "hi")

	_, err := svc.StreamMessage(context.Background(), "user-2", thread.Token, &models.PostMessageRequest{
		Model:      "openai:gpt-4o-mini",
		NewMessage: "let me in",
	})
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("err = %v, want ErrThreadNotFound", err)
	}
}

// ========== History ordering ==========

func TestGetThread_HistoryInArrivalOrder(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "reply"}})
	thread := mustCreateThread(t, svc, "user-1", "first")

	base := time.Now()
	for i, text := range []string{"second", "third", "fourth"} {
		msg := &db.ChatMessage{
			ID:        text,
			ThreadID:  thread.ID,
			Role:      db.RoleUser,
			Status:    db.MessageStatusCompleted,
			Parts:     db.Parts{{Type: db.PartTypeText, Text: text}},
			CreatedAt: base.Add(time.Duration(i+1) * time.Second),
		}
		if err := gdb.Create(msg).Error; err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.GetThread("user-1", thread.Token)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third", "fourth"}
	if len(got.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(want))
	}
	for i, w := range want {
		if got.Messages[i].TextContent() != w {
			t.Fatalf("message %d = %q, want %q", i, got.Messages[i].TextContent(), w)
		}
	}
}

// ========== Deletion ==========

func TestDeleteThread_SoftDeleteAndScrub(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})
	thread := mustCreateThread(t, svc, "user-1", "secret content")

	if err := svc.DeleteThread("user-1", thread.Token); err != nil {
		t.Fatal(err)
	}

	// Gone from the owner's view.
	if _, err := svc.GetThread("user-1", thread.Token); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("deleted thread still readable: %v", err)
	}

	// Content scrubbed, not just flagged.
	var msg db.ChatMessage
	if err := gdb.Unscoped().Where("thread_id = ?", thread.ID).First(&msg).Error; err != nil {
		t.Fatal(err)
	}
	if !msg.Deleted || len(msg.Parts) != 0 {
		t.Fatalf("message not scrubbed: deleted=%v parts=%v", msg.Deleted, msg.Parts)
	}

	// Second delete is not found, and nothing changes.
	if err := svc.DeleteThread("user-1", thread.Token); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("second delete: err = %v, want ErrThreadNotFound", err)
	}
}

func TestDeleteThread_UnownedLeavesThreadIntact(t *testing.T) {
	svc, _ := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})
	thread := mustCreateThread(t, svc, "user-1", "mine")

	if err := svc.DeleteThread("user-2", thread.Token); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("err = %v, want ErrThreadNotFound", err)
	}

	// Still visible to the real owner.
	if _, err := svc.GetThread("user-1", thread.Token); err != nil {
		t.Fatalf("owner lost access after foreign delete attempt: %v", err)
	}
}

// ========== Listing ==========

func TestListThreads_NewestActivityFirst(t *testing.T) {
	svc, gdb := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})

	old := mustCreateThread(t, svc, "user-1", "old")
	fresh := mustCreateThread(t, svc, "user-1", "fresh")
	gdb.Model(&db.Thread{}).Where("id = ?", old.ID).
		Update("last_messaged_at", time.Now().Add(-time.Hour))
	gdb.Model(&db.Thread{}).Where("id = ?", fresh.ID).
		Update("last_messaged_at", time.Now())

	threads, hasMore, err := svc.ListThreads("user-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if hasMore {
		t.Fatal("unexpected hasMore")
	}
	if len(threads) != 2 || threads[0].ID != fresh.ID {
		t.Fatalf("ordering wrong: %+v", threads)
	}
}

func TestListThreads_Pagination(t *testing.T) {
	svc, _ := newTestService(t, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}})
	for i := 0; i < 3; i++ {
		mustCreateThread(t, svc, "user-1", "prompt")
	}

	threads, hasMore, err := svc.ListThreads("user-1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 || !hasMore {
		t.Fatalf("page 1: %d threads, hasMore=%v", len(threads), hasMore)
	}

	threads, hasMore, err = svc.ListThreads("user-1", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 1 || hasMore {
		t.Fatalf("page 2: %d threads, hasMore=%v", len(threads), hasMore)
	}
}

// ========== Helpers ==========

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"hello world", []string{"hello ", "world"}},
		{"a  b", []string{"a  ", "b"}},
		{"line\nbreak", []string{"line\n", "break"}},
		{"  lead", []string{"  ", "lead"}},
	}
	for _, tt := range tests {
		got := splitWords(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitWords(%q) = %q, want %q", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitWords(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"Weather in Paris"`, "Weather in Paris"},
		{"Trip planning.\nExtra line", "Trip planning"},
		{"  plain  ", "plain"},
		{strings.Repeat("x", 120), strings.Repeat("x", 80)},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
