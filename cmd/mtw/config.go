// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mtw/util"
	"github.com/joho/godotenv"
	"v.io/x/lib/cmdline"
)

const (
	envPrefix      = "MTW_"
	envFileVar     = envPrefix + "ENV"
	defaultEnvFile = ".mtw.env"
)

// flagEnvName returns the variable that overrides the default of the named
// flag, e.g. MTW_MIN_DEPTH for -min-depth.
func flagEnvName(name string) string {
	return envPrefix + strings.ToUpper(strings.Replace(name, "-", "_", -1))
}

// loadEnv returns the configuration variables visible to a command: the
// process environment plus the contents of the dotenv file.  Process
// variables win.  path defaults to $MTW_ENV, then to .mtw.env, which may be
// absent.
func loadEnv(env *cmdline.Env, path string) (map[string]string, error) {
	if path == "" {
		path = env.Vars[envFileVar]
	}
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	vars, err := godotenv.Read(path)
	switch {
	case err == nil:
		log.Debug.Printf("loaded %d variables from %s", len(vars), path)
	case explicit || !os.IsNotExist(err):
		return nil, errors.E(err, "reading", path)
	default:
		vars = map[string]string{}
	}
	for k, v := range env.Vars {
		vars[k] = v
	}
	return vars, nil
}

// applyEnv sets every flag not given on the command line from its MTW_*
// variable, if present.
func applyEnv(fs *flag.FlagSet, vars map[string]string) error {
	given := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || given[f.Name] {
			return
		}
		name := flagEnvName(f.Name)
		v, ok := vars[name]
		if !ok {
			return
		}
		if e := fs.Set(f.Name, v); e != nil {
			err = errors.E(errors.Invalid, fmt.Sprintf("%s=%q: %v", name, v, e))
			return
		}
		log.Debug.Printf("-%s=%s from %s", f.Name, v, name)
	})
	return err
}

// envFlag registers the -env flag and returns a function that applies the
// configuration to cmd's flags.  It must run first in the command's runner.
func envFlag(cmd *cmdline.Command) func(env *cmdline.Env) error {
	path := cmd.Flags.String("env", "", "Dotenv file of MTW_* flag overrides (default $MTW_ENV, else .mtw.env if present)")
	return func(env *cmdline.Env) error {
		vars, err := loadEnv(env, *path)
		if err != nil {
			return err
		}
		// ParsedFlags records which flags the command line set.
		fs := cmd.ParsedFlags
		if fs == nil {
			fs = &cmd.Flags
		}
		return applyEnv(fs, vars)
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// writeOutput writes to path, or to stdout when path is empty or "-".
func writeOutput(ctx context.Context, env *cmdline.Env, path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(env.Stdout)
	}
	return util.WriteFile(ctx, path, 1, fn)
}
