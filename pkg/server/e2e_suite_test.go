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

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/llm-d/llm-d-extractive-qa/pkg/answercache"
	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/server"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

const (
	farmQuestion = "Why is model conversion important?"
	farmContext  = "The option to convert models between FARM and transformers gives freedom to the user " +
		"and let people easily switch between frameworks."
)

// wordTokenizer numbers the words of each pair in order of appearance.
type wordTokenizer struct{}

func (wordTokenizer) EncodePair(question, passage string) (*tokenization.Encoding, error) {
	ids := func(offset int, text string) []uint32 {
		words := strings.Fields(text)
		out := make([]uint32, len(words))
		for i := range words {
			out[i] = uint32(offset + i + 1)
		}
		return out
	}
	q := ids(0, question)
	return tokenization.BertPairTemplate(1000, 1001).Assemble(q, ids(len(q), passage), 0), nil
}

// Decode is only meaningful for farmQuestion/farmContext pairs.
func (wordTokenizer) Decode(ids []uint32) string {
	words := append(strings.Fields(farmQuestion), strings.Fields(farmContext)...)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, words[id-1])
	}
	return strings.Join(out, " ")
}

// freedomModel points at "freedom to the user" within farmContext.
type freedomModel struct{}

func (freedomModel) Predict(_ context.Context, enc *tokenization.Encoding) (*inference.SpanLogits, error) {
	words := append(strings.Fields(farmQuestion), strings.Fields(farmContext)...)
	logits := &inference.SpanLogits{Start: make([]float32, enc.Len()), End: make([]float32, enc.Len())}
	for i, id := range enc.IDs {
		if enc.IsSpecial(i) || int(id) > len(words) {
			continue
		}
		switch words[id-1] {
		case "freedom":
			logits.Start[i] = 5
		case "user":
			logits.End[i] = 5
		}
	}
	return logits, nil
}

type e2eLoader struct{}

func (e2eLoader) Load(context.Context, string) (tokenization.Tokenizer, inference.Model, error) {
	return wordTokenizer{}, freedomModel{}, nil
}

// QASuite drives the HTTP server against a real QA service backed by a stub
// model and a Redis answer cache.
type QASuite struct {
	suite.Suite

	ctx     context.Context
	cancel  context.CancelFunc
	redis   *miniredis.Miniredis
	service *qa.Service
	http    *httptest.Server
}

func (s *QASuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var err error
	s.redis, err = miniredis.Run()
	s.Require().NoError(err)

	config := qa.NewDefaultConfig()
	config.ModelProviderConfig.ModelsDir = s.T().TempDir()
	config.AnswerCacheConfig = &answercache.Config{
		RedisConfig: &answercache.RedisConfig{Address: s.redis.Addr()},
	}

	dir := filepath.Join(config.ModelProviderConfig.ModelsDir, filepath.FromSlash(config.ModelID))
	s.Require().NoError(os.MkdirAll(dir, 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o600))

	s.service, err = qa.NewService(s.ctx, config,
		qa.WithProviderOptions(modelprovider.WithLoader(e2eLoader{})))
	s.Require().NoError(err)

	srv, err := server.NewServer(s.ctx, server.DefaultConfig(), s.service)
	s.Require().NoError(err)
	s.http = httptest.NewServer(srv.Echo)
}

func (s *QASuite) TearDownTest() {
	s.http.Close()
	s.cancel()
	_ = s.service.Close()
	s.redis.Close()
}

func (s *QASuite) get(path string, out any) int {
	resp, err := http.Get(s.http.URL + path) //nolint:noctx // test helper
	s.Require().NoError(err)
	defer resp.Body.Close()

	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func predictPath(question, passage string) string {
	return "/predict?" + url.Values{"question": {question}, "context": {passage}}.Encode()
}

func (s *QASuite) TestPredictAnswersFromContext() {
	var resp server.PredictResponse
	s.Equal(http.StatusOK, s.get(predictPath(farmQuestion, farmContext), &resp))

	s.NotEmpty(resp.Answer)
	s.Contains(farmContext, resp.Answer)
	s.Equal("freedom to the user", resp.Answer)
}

func (s *QASuite) TestAnswerIsCachedInRedis() {
	var first, second server.PredictResponse
	s.Equal(http.StatusOK, s.get(predictPath(farmQuestion, farmContext), &first))
	s.Len(s.redis.Keys(), 1)

	s.Equal(http.StatusOK, s.get(predictPath(farmQuestion, farmContext), &second))
	s.Equal(first, second)
	s.Len(s.redis.Keys(), 1)
}

func (s *QASuite) TestEmptyContext() {
	var resp server.PredictResponse
	s.Equal(http.StatusOK, s.get(predictPath(farmQuestion, ""), &resp))
	s.Equal("", resp.Answer)
	s.Empty(s.redis.Keys())
}

func (s *QASuite) TestReadinessFollowsModelLoad() {
	s.Equal(http.StatusServiceUnavailable, s.get("/healthz", nil))
	s.Equal(http.StatusServiceUnavailable, s.get("/metadata", nil))

	go s.service.Run(s.ctx)
	s.Eventually(s.service.Ready, 2*time.Second, 5*time.Millisecond)

	s.Equal(http.StatusOK, s.get("/healthz", nil))

	var md qa.ModelMetadata
	s.Equal(http.StatusOK, s.get("/metadata", &md))
	s.Equal("deepset/roberta-base-squad2", md.ModelID)
}

func (s *QASuite) TestUnservedModelIsRejected() {
	var resp server.ErrorResponse
	s.Equal(http.StatusBadRequest, s.get(predictPath(farmQuestion, farmContext)+"&model=other/model", &resp))
	s.Contains(resp.Error, "other/model")
}

// TestQASuite runs the QASuite using testify's suite runner.
func TestQASuite(t *testing.T) {
	suite.Run(t, new(QASuite))
}
