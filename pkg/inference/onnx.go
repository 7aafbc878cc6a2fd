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

package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const (
	defaultModelFile         = "model.onnx"
	defaultInputIDsName      = "input_ids"
	defaultAttentionMaskName = "attention_mask"
	defaultTokenTypeIDsName  = "token_type_ids"
	defaultStartLogitsName   = "start_logits"
	defaultEndLogitsName     = "end_logits"
)

// ONNXConfig holds the configuration for ONNX-exported span models.
type ONNXConfig struct {
	// ModelFile is the ONNX graph inside the model directory.
	ModelFile string `json:"modelFile"`
	// SharedLibraryPath points at libonnxruntime. Empty uses the platform
	// default lookup.
	SharedLibraryPath string `json:"sharedLibraryPath,omitempty"`
	// IntraOpThreads bounds the threads used by a single forward pass.
	// Zero leaves the runtime default.
	IntraOpThreads int `json:"intraOpThreads,omitempty"`

	InputIDsName      string `json:"inputIDsName"`
	AttentionMaskName string `json:"attentionMaskName"`
	// TokenTypeIDsName is fed only when the graph declares such an input.
	TokenTypeIDsName string `json:"tokenTypeIDsName"`
	StartLogitsName  string `json:"startLogitsName"`
	EndLogitsName    string `json:"endLogitsName"`
}

// DefaultONNXConfig returns the tensor names used by optimum's
// question-answering export.
func DefaultONNXConfig() *ONNXConfig {
	return &ONNXConfig{
		ModelFile:         defaultModelFile,
		InputIDsName:      defaultInputIDsName,
		AttentionMaskName: defaultAttentionMaskName,
		TokenTypeIDsName:  defaultTokenTypeIDsName,
		StartLogitsName:   defaultStartLogitsName,
		EndLogitsName:     defaultEndLogitsName,
	}
}

var (
	runtimeOnce sync.Once
	errRuntime  error
)

// initRuntime initializes the process-wide ONNX runtime environment once.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		errRuntime = ort.InitializeEnvironment()
	})
	return errRuntime
}

// ONNXModel implements Model on top of an onnxruntime session.
type ONNXModel struct {
	session         *ort.DynamicAdvancedSession
	withTokenTypeID bool
}

var _ Model = &ONNXModel{}

// NewONNXModel opens the ONNX graph found in dir.
func NewONNXModel(dir string, config *ONNXConfig) (*ONNXModel, error) {
	if config == nil {
		config = DefaultONNXConfig()
	}

	if err := initRuntime(config.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	path := filepath.Join(dir, config.ModelFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model graph %s: %w", path, err)
	}

	inputsInfo, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model graph %s: %w", path, err)
	}

	inputNames := []string{config.InputIDsName, config.AttentionMaskName}
	withTokenTypeID := false
	for _, info := range inputsInfo {
		if config.TokenTypeIDsName != "" && info.Name == config.TokenTypeIDsName {
			inputNames = append(inputNames, config.TokenTypeIDsName)
			withTokenTypeID = true
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy() //nolint:errcheck // options are copied into the session

	if config.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames,
		[]string{config.StartLogitsName, config.EndLogitsName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session for %s: %w", path, err)
	}

	return &ONNXModel{
		session:         session,
		withTokenTypeID: withTokenTypeID,
	}, nil
}

// Predict runs a batch-of-one forward pass. The runtime session is safe for
// concurrent Run calls; every call owns its tensors.
func (m *ONNXModel) Predict(ctx context.Context, enc *tokenization.Encoding) (*SpanLogits, error) {
	n := int64(enc.Len())
	if n == 0 {
		return &SpanLogits{}, nil
	}

	traceLogger := klog.FromContext(ctx).V(logging.TRACE).WithName("inference.ONNXModel.Predict")
	shape := ort.NewShape(1, n)

	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()

	columns := [][]uint32{enc.IDs, enc.AttentionMask}
	if m.withTokenTypeID {
		columns = append(columns, enc.TypeIDs)
	}
	for _, column := range columns {
		tensor, err := ort.NewTensor(shape, widen(column))
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}

	start, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create start logits tensor: %w", err)
	}
	defer start.Destroy() //nolint:errcheck // best effort release

	end, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create end logits tensor: %w", err)
	}
	defer end.Destroy() //nolint:errcheck // best effort release

	if err := m.session.Run(inputs, []ort.Value{start, end}); err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	traceLogger.Info("forward pass done", "positions", n)

	return &SpanLogits{
		Start: slices.Clone(start.GetData()),
		End:   slices.Clone(end.GetData()),
	}, nil
}

// Close releases the runtime session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}

// widen converts token ids to the int64 tensor element type of the graph.
func widen(ids []uint32) []int64 {
	return utils.SliceMap(ids, func(id uint32) int64 { return int64(id) })
}
