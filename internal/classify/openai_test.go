package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, answer string, check func(r *http.Request, req map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(r, req)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": answer}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClassifier(t *testing.T, baseURL string) *OpenAIClassifier {
	t.Helper()
	c, err := NewOpenAIClassifier(OpenAIConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
		Topic:   "artificial intelligence",
	})
	require.NoError(t, err)
	return c
}

func TestOpenAIClassifier_ClassifyBatch(t *testing.T) {
	t.Parallel()

	answer := `Here are my judgments:
<result>
<id>10.1000/a</id>
<judgment>Related</judgment>
<explanation>Uses deep learning throughout.</explanation>
</result>
<result>
<id>10.1000/b</id>
<judgment>Not Related</judgment>
<explanation>Pure organic chemistry.</explanation>
</result>`

	srv := chatServer(t, answer, func(r *http.Request, req map[string]any) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "test-model", req["model"])
	})
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	votes, err := c.ClassifyBatch(context.Background(), []BatchItem{
		{ID: "10.1000/a", Title: "Neural nets", Abstract: "deep learning"},
		{ID: "10.1000/b", Title: "Benzene rings", Abstract: "chemistry"},
	})
	require.NoError(t, err)

	require.Len(t, votes, 2)
	assert.Equal(t, "10.1000/a", votes[0].ID)
	assert.True(t, votes[0].Relevant)
	assert.Equal(t, "Uses deep learning throughout.", votes[0].Explanation)
	assert.Equal(t, "10.1000/b", votes[1].ID)
	assert.False(t, votes[1].Relevant)
}

func TestOpenAIClassifier_ClassifyBatchPartialResponse(t *testing.T) {
	t.Parallel()

	// The model only answered one of the two items. The missing vote is the
	// consensus engine's problem, not an error here.
	answer := `<result>
<id>10.1000/a</id>
<judgment>Related</judgment>
<explanation>On topic.</explanation>
</result>`

	srv := chatServer(t, answer, nil)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	votes, err := c.ClassifyBatch(context.Background(), []BatchItem{
		{ID: "10.1000/a"}, {ID: "10.1000/b"},
	})
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "10.1000/a", votes[0].ID)
}

func TestOpenAIClassifier_ClassifyOne(t *testing.T) {
	t.Parallel()

	answer := `After review:
<judgment>Related</judgment>
<explanation>The abstract describes a transformer model.</explanation>`

	srv := chatServer(t, answer, nil)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	vote, err := c.ClassifyOne(context.Background(), BatchItem{ID: "10.1000/a", Title: "Transformers"})
	require.NoError(t, err)
	assert.Equal(t, "10.1000/a", vote.ID)
	assert.True(t, vote.Relevant)
	assert.Equal(t, "The abstract describes a transformer model.", vote.Explanation)
}

func TestOpenAIClassifier_ClassifyOneMissingJudgment(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "I cannot decide.", nil)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	_, err := c.ClassifyOne(context.Background(), BatchItem{ID: "10.1000/a"})
	require.Error(t, err)
}

func TestOpenAIClassifier_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	_, err := c.ClassifyBatch(context.Background(), []BatchItem{{ID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClassifier_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIClassifier(OpenAIConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewOpenAIClassifier(OpenAIConfig{APIKey: "k", Model: ""})
	require.Error(t, err)
}

func TestOpenAIClassifier_EmptyBatchIsNoCall(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, "http://127.0.0.1:1")
	votes, err := c.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, votes)
}
