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

package main

import (
	"flag"
	"strconv"

	"github.com/jessevdk/go-flags"
	"k8s.io/klog/v2"
)

// RootOptions are accepted by every command.
type RootOptions struct {
	Config    string `short:"f" long:"config" description:"YAML configuration file"`
	EnvFile   string `long:"env-file" default:".env" description:"dotenv file loaded before reading the environment"`
	Verbosity int    `short:"v" long:"verbosity" default:"0" description:"log verbosity (4 debug, 5 trace)"`
}

// Options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	RootOptions `group:"Global Options"`

	Serve *ServeCmd `command:"serve" description:"Serve the question-answering API over HTTP"`
	Fetch *FetchCmd `command:"fetch" description:"Populate the local model cache from remote storage"`
}

// rootAware is implemented by commands that need the global options.
type rootAware interface {
	setRoot(root *RootOptions)
}

// NewOptions creates Options with every command instantiated.
func NewOptions() *Options {
	return &Options{
		Serve: &ServeCmd{},
		Fetch: &FetchCmd{},
	}
}

// NewParser creates the command-line parser. Global options are applied
// before the selected command executes.
func NewParser(opts *Options) *flags.Parser {
	parser := flags.NewParser(opts, flags.Default)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}
		if err := setVerbosity(opts.Verbosity); err != nil {
			return err
		}
		if cmd, ok := command.(rootAware); ok {
			cmd.setRoot(&opts.RootOptions)
		}
		return command.Execute(args)
	}
	return parser
}

func setVerbosity(level int) error {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	return fs.Set("v", strconv.Itoa(level))
}
