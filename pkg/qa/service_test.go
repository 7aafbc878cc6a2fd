/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package qa_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/answercache"
	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/storage"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

const (
	testQuestion = "Why is model conversion important?"
	testContext  = "The option to convert models between FARM and transformers gives freedom to the user " +
		"and let people easily switch between frameworks."
)

// hashTokenizer maps each whitespace-separated word to an id and back.
type hashTokenizer struct {
	words []string
}

func (h *hashTokenizer) EncodePair(question, passage string) (*tokenization.Encoding, error) {
	h.words = append(strings.Fields(question), strings.Fields(passage)...)
	q := make([]uint32, len(strings.Fields(question)))
	c := make([]uint32, len(strings.Fields(passage)))
	for i := range q {
		q[i] = uint32(i + 10)
	}
	for i := range c {
		c[i] = uint32(len(q) + i + 10)
	}
	return tokenization.PlainPairTemplate().Assemble(q, c, 0), nil
}

func (h *hashTokenizer) Decode(ids []uint32) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.words[id-10])
	}
	return strings.Join(out, " ")
}

func (h *hashTokenizer) TemplateKind() string   { return tokenization.TemplateKindNone }
func (h *hashTokenizer) MaxSequenceLength() int { return 384 }

// lastWordsModel selects the last two positions and counts forward passes.
type lastWordsModel struct {
	calls atomic.Int32
}

func (m *lastWordsModel) Predict(_ context.Context, enc *tokenization.Encoding) (*inference.SpanLogits, error) {
	m.calls.Add(1)
	n := enc.Len()
	logits := &inference.SpanLogits{Start: make([]float32, n), End: make([]float32, n)}
	logits.Start[n-2] = 1
	logits.End[n-1] = 1
	return logits, nil
}

type stubLoader struct {
	model *lastWordsModel
}

func (l *stubLoader) Load(context.Context, string) (tokenization.Tokenizer, inference.Model, error) {
	return &hashTokenizer{}, l.model, nil
}

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string, string) (*storage.FetchStats, error) {
	return nil, errdefs.NewNotFoundError("no objects", nil)
}

func newTestService(t *testing.T) (*qa.Service, *lastWordsModel) {
	t.Helper()

	config := qa.NewDefaultConfig()
	config.ServedModels = []string{"other/model"}
	config.ModelProviderConfig.ModelsDir = t.TempDir()
	for _, id := range []string{config.ModelID, "other/model"} {
		dir := filepath.Join(config.ModelProviderConfig.ModelsDir, filepath.FromSlash(id))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o600))
	}

	model := &lastWordsModel{}
	service, err := qa.NewService(t.Context(), config, qa.WithProviderOptions(
		modelprovider.WithLoader(&stubLoader{model: model}),
		modelprovider.WithFetcher(nopFetcher{}),
	))
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	return service, model
}

func TestService_Answer(t *testing.T) {
	service, model := newTestService(t)

	answer, err := service.Answer(t.Context(), "", testQuestion, testContext)
	require.NoError(t, err)
	assert.Equal(t, "between frameworks.", answer)
	assert.Contains(t, testContext, answer)

	// answered again from the cache
	again, err := service.Answer(t.Context(), "", testQuestion, testContext)
	require.NoError(t, err)
	assert.Equal(t, answer, again)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestService_AnswerLogsEveryPrediction(t *testing.T) {
	service, model := newTestService(t)

	var (
		mu      sync.Mutex
		records []string
	)
	logger := funcr.New(func(_, args string) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, args)
	}, funcr.Options{})
	ctx := klog.NewContext(t.Context(), logger)

	for range 2 {
		_, err := service.Answer(ctx, "", testQuestion, testContext)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), model.calls.Load())

	mu.Lock()
	defer mu.Unlock()
	predictions := 0
	for _, record := range records {
		if strings.Contains(record, "Predicted answer") &&
			strings.Contains(record, testQuestion) &&
			strings.Contains(record, "between frameworks.") {
			predictions++
		}
	}
	assert.Equal(t, 2, predictions)
}

func TestService_AnswerWithoutCache(t *testing.T) {
	config := qa.NewDefaultConfig()
	config.AnswerCacheConfig = nil
	config.ModelProviderConfig.ModelsDir = t.TempDir()
	dir := filepath.Join(config.ModelProviderConfig.ModelsDir, filepath.FromSlash(config.ModelID))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o600))

	model := &lastWordsModel{}
	service, err := qa.NewService(t.Context(), config,
		qa.WithProviderOptions(modelprovider.WithLoader(&stubLoader{model: model})))
	require.NoError(t, err)

	for range 3 {
		_, err := service.Answer(t.Context(), "", testQuestion, testContext)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), model.calls.Load())
}

func TestService_EmptyContext(t *testing.T) {
	service, model := newTestService(t)

	answer, err := service.Answer(t.Context(), "", testQuestion, "")
	require.NoError(t, err)
	assert.Equal(t, "", answer)
	assert.Equal(t, int32(0), model.calls.Load())
	// the model is still loaded
	assert.True(t, service.Ready())
}

func TestService_ModelSelection(t *testing.T) {
	service, _ := newTestService(t)

	assert.True(t, service.Serves("other/model"))
	assert.Equal(t, []string{"deepset/roberta-base-squad2", "other/model"}, service.ServedModels())

	_, err := service.Answer(t.Context(), "other/model", testQuestion, testContext)
	require.NoError(t, err)

	_, err = service.Answer(t.Context(), "unknown/model", testQuestion, testContext)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidInput(err))
}

func TestService_PrefetchedModelsAreServed(t *testing.T) {
	config := qa.NewDefaultConfig()
	config.ModelProviderConfig.ModelsDir = t.TempDir()
	config.ModelProviderConfig.PrefetchModels = []string{"org/prefetched"}

	service, err := qa.NewService(t.Context(), config,
		qa.WithProviderOptions(modelprovider.WithFetcher(nopFetcher{})))
	require.NoError(t, err)
	defer service.Close()

	assert.True(t, service.Serves("org/prefetched"))
	assert.Equal(t, []string{"deepset/roberta-base-squad2", "org/prefetched"}, service.ServedModels())
}

func TestService_MissingModelIsNotFound(t *testing.T) {
	config := qa.NewDefaultConfig()
	config.ModelProviderConfig.ModelsDir = t.TempDir()
	service, err := qa.NewService(t.Context(), config,
		qa.WithProviderOptions(modelprovider.WithFetcher(nopFetcher{})))
	require.NoError(t, err)

	_, err = service.Answer(t.Context(), "", testQuestion, testContext)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
	assert.False(t, service.Ready())
}

func TestService_Metadata(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Metadata("")
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))

	_, err = service.Answer(t.Context(), "", testQuestion, testContext)
	require.NoError(t, err)

	md, err := service.Metadata("")
	require.NoError(t, err)
	assert.Equal(t, "deepset/roberta-base-squad2", md.ModelID)
	assert.Equal(t, tokenization.TemplateKindNone, md.TemplateKind)
	assert.Equal(t, 384, md.MaxSequenceLength)
	assert.False(t, md.Fetched)
	assert.WithinDuration(t, time.Now(), md.LoadedAt, time.Minute)
}

func TestService_RunPrefetchesDefaultModel(t *testing.T) {
	service, _ := newTestService(t)
	assert.False(t, service.Ready())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go service.Run(ctx)

	require.Eventually(t, service.Ready, 2*time.Second, 5*time.Millisecond)
}

func TestNewService_InvalidDefaultModel(t *testing.T) {
	config := qa.NewDefaultConfig()
	config.ModelID = "../escape"
	_, err := qa.NewService(t.Context(), config)
	assert.Error(t, err)
}

func TestNewService_CacheBackend(t *testing.T) {
	config := qa.NewDefaultConfig()
	config.AnswerCacheConfig = &answercache.Config{}
	_, err := qa.NewService(t.Context(), config)
	assert.Error(t, err)
}

func TestService_CloseReleasesAnswerCache(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	config := qa.NewDefaultConfig()
	config.AnswerCacheConfig = &answercache.Config{
		RedisConfig: &answercache.RedisConfig{Address: server.Addr()},
	}
	config.ModelProviderConfig.ModelsDir = t.TempDir()
	dir := filepath.Join(config.ModelProviderConfig.ModelsDir, filepath.FromSlash(config.ModelID))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o600))

	service, err := qa.NewService(t.Context(), config,
		qa.WithProviderOptions(modelprovider.WithLoader(&stubLoader{model: &lastWordsModel{}})))
	require.NoError(t, err)

	_, err = service.Answer(t.Context(), "", testQuestion, testContext)
	require.NoError(t, err)
	require.Positive(t, server.CurrentConnectionCount())

	require.NoError(t, service.Close())
	assert.Eventually(t, func() bool { return server.CurrentConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
