// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/maruel/vcrproxy"
)

// cmdSchema prints the JSON Schema of a cassette or a route override,
// reflected locally from the Go types. It does not contact a running proxy.
type cmdSchema struct {
	Kind string `arg:"" enum:"cassette,route" help:"Which type to print the schema for."`
}

func (c cmdSchema) Run(_ context.Context, _ *Config) error {
	var v any
	switch c.Kind {
	case "cassette":
		v = &vcrproxy.Cassette{}
	case "route":
		v = &vcrproxy.RouteMatchingOverride{}
	default:
		return fmt.Errorf("unknown schema kind %q", c.Kind)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonschema.Reflect(v))
}
