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

// Command qa-server serves an extractive question-answering model over HTTP.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
	"k8s.io/klog/v2"

	// register remote model stores
	_ "github.com/viant/afsc/gs"
	_ "github.com/viant/afsc/s3"
)

func main() {
	code := run(os.Args[1:])
	klog.Flush()
	os.Exit(code)
}

func run(args []string) int {
	parser := NewParser(NewOptions())
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		klog.Background().Error(err, "qa-server failed")
		return 1
	}
	return 0
}
