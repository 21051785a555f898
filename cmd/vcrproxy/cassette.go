// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/httpjson"
	"github.com/maruel/roundtrippers"
	"github.com/maruel/vcrproxy"
)

// cmdCassette groups the Admin Facade client operations a developer runs
// against an already-running vcrproxy.
type cmdCassette struct {
	List   cmdCassetteList   `cmd:"" help:"List cassette file names, optionally filtered to one domain."`
	Delete cmdCassetteDelete `cmd:"" help:"Delete one or more cassette IDs, a whole domain, or everything."`
}

type cmdCassetteList struct {
	Domain string `arg:"" optional:"" help:"Restrict the listing to one domain."`
}

func (c cmdCassetteList) Run(ctx context.Context, cfg *Config) error {
	client := adminClient()
	path := "/api/cassettes"
	if c.Domain != "" {
		path += "/" + c.Domain
	}
	var ids []string
	if err := client.Get(ctx, cfg.adminBaseURL()+path, nil, &ids); err != nil {
		return fmt.Errorf("cassette list: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

type cmdCassetteDelete struct {
	Domain string   `arg:"" help:"Domain to delete from, or \"all\" to wipe every cassette."`
	IDs    []string `arg:"" optional:"" help:"Cassette IDs to delete. Omit to delete the whole domain."`
}

func (c cmdCassetteDelete) Run(ctx context.Context, cfg *Config) error {
	client := adminClient()
	base := cfg.adminBaseURL()

	if c.Domain == "all" && len(c.IDs) == 0 {
		body, err := deleteURL(ctx, client, base+"/api/cassettes")
		if err != nil {
			return fmt.Errorf("cassette delete: %w", err)
		}
		fmt.Printf("deleted %d cassettes\n", body.Deleted)
		return nil
	}

	if len(c.IDs) == 0 {
		body, err := deleteURL(ctx, client, base+"/api/cassettes/"+c.Domain)
		if err != nil {
			return fmt.Errorf("cassette delete: %w", err)
		}
		fmt.Printf("deleted %d cassettes from %s\n", body.Deleted, c.Domain)
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, id := range c.IDs {
		id := id
		eg.Go(func() error {
			body, err := deleteURL(ctx, client, base+"/api/cassettes/"+c.Domain+"/"+id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			if body.Deleted == 0 {
				fmt.Printf("%s: not found\n", id)
			} else {
				fmt.Printf("%s: deleted\n", id)
			}
			return nil
		})
	}
	return eg.Wait()
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

func deleteURL(ctx context.Context, client httpjson.Client, url string) (deleteResponse, error) {
	resp, err := client.Request(ctx, http.MethodDelete, url, nil, nil)
	if err != nil {
		return deleteResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e vcrproxy.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return deleteResponse{}, fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	var body deleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return deleteResponse{}, err
	}
	return body, nil
}

// adminClient returns an httpjson.Client that retries transient failures
// when talking to a locally-run Admin Facade, unlike internal/transport's
// deliberately retry-free upstream forwarding client.
func adminClient() httpjson.Client {
	return httpjson.Client{
		Client: &http.Client{
			Transport: &roundtrippers.Retry{
				Transport: &roundtrippers.RequestID{Transport: http.DefaultTransport},
			},
		},
	}
}

func (c *Config) adminBaseURL() string {
	return fmt.Sprintf("http://localhost:%d", c.AdminPort)
}
