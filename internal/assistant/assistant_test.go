package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/calumw/pilltick/internal/config"
	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStores(t *testing.T) (*store.Store, *medication.Store) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DataDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "test.db")
	cfg.Storage.BadgerPath = filepath.Join(dir, "badger")

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	meds, err := medication.NewStore(st.DB())
	require.NoError(t, err)
	return st, meds
}

// fakeProvider captures the last request and returns a canned reply
type fakeProvider struct {
	server   *httptest.Server
	lastBody atomic.Value
	status   atomic.Int32
}

func newFakeProvider() *fakeProvider {
	p := &fakeProvider{}
	p.status.Store(http.StatusOK)
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		p.lastBody.Store(req)

		if code := int(p.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Take it with food."}},
			},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	return p
}

func (p *fakeProvider) assistantConfig() config.AssistantConfig {
	return config.AssistantConfig{
		Enabled: true,
		APIKey:  "test-key",
		BaseURL: p.server.URL,
		Model:   "test-model",
	}
}

func TestChatStoresBothTurns(t *testing.T) {
	st, meds := setupStores(t)
	provider := newFakeProvider()
	defer provider.server.Close()

	require.NoError(t, meds.CreateReminder(&medication.Reminder{
		UserID:    "usr_1",
		Name:      "Metformin",
		Dosage:    "500mg",
		Frequency: medication.FrequencyDaily,
		Times:     []string{"08:00"},
		Active:    true,
	}))

	a := New(provider.assistantConfig(), meds, st, zap.NewNop())
	reply, err := a.Chat(context.Background(), "usr_1", "", "When do I take metformin?")
	require.NoError(t, err)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "Take it with food.", reply.Content)

	msgs, err := st.GetMessages(reply.ConversationID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)

	conv, err := st.GetConversation(reply.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.TokensUsed)
	assert.Equal(t, 2, conv.MessageCount)
}

func TestChatGroundsPromptInSchedule(t *testing.T) {
	st, meds := setupStores(t)
	provider := newFakeProvider()
	defer provider.server.Close()

	require.NoError(t, meds.CreateReminder(&medication.Reminder{
		UserID:       "usr_1",
		Name:         "Lisinopril",
		Dosage:       "10mg",
		Frequency:    medication.FrequencyDaily,
		Times:        []string{"09:00"},
		Instructions: "with water",
		Active:       true,
	}))

	a := New(provider.assistantConfig(), meds, st, zap.NewNop())
	_, err := a.Chat(context.Background(), "usr_1", "", "What do I take today?")
	require.NoError(t, err)

	req := provider.lastBody.Load().(map[string]any)
	messages := req["messages"].([]any)
	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "Lisinopril 10mg")
	assert.Contains(t, system["content"], "09:00")
}

func TestChatDisabled(t *testing.T) {
	st, meds := setupStores(t)
	a := New(config.AssistantConfig{Enabled: false}, meds, st, zap.NewNop())

	_, err := a.Chat(context.Background(), "usr_1", "", "hello")
	assert.ErrorIs(t, err, apperrors.ErrAssistantDisabled)
}

func TestChatRejectsForeignConversation(t *testing.T) {
	st, meds := setupStores(t)
	provider := newFakeProvider()
	defer provider.server.Close()

	a := New(provider.assistantConfig(), meds, st, zap.NewNop())
	mine, err := a.Chat(context.Background(), "usr_1", "", "hello")
	require.NoError(t, err)

	_, err = a.Chat(context.Background(), "usr_2", mine.ConversationID, "sneaky")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	st, meds := setupStores(t)
	provider := newFakeProvider()
	defer provider.server.Close()
	provider.status.Store(http.StatusBadGateway)

	a := New(provider.assistantConfig(), meds, st, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := a.Chat(context.Background(), "usr_1", "", "hello")
		require.Error(t, err)
	}

	// Breaker is open: the request fails fast without reaching the provider
	_, err := a.Chat(context.Background(), "usr_1", "", "hello")
	assert.ErrorIs(t, err, apperrors.ErrAssistantUnavailable)
}

func TestConversationTitleTruncatesOnRuneBoundary(t *testing.T) {
	st, meds := setupStores(t)
	provider := newFakeProvider()
	defer provider.server.Close()

	question := strings.Repeat("薬", 70) + " when?"

	a := New(provider.assistantConfig(), meds, st, zap.NewNop())
	reply, err := a.Chat(context.Background(), "usr_1", "", question)
	require.NoError(t, err)

	conv, err := st.GetConversation(reply.ConversationID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(conv.Title))
	assert.Equal(t, strings.Repeat("薬", 60), conv.Title)
}
