// Package registry provides the client interface to the external
// registry/provenance network ("CAMP" in the original implementation) that
// stores and verifies watermark hashes. This package ships a mock client
// only: the real network is an opaque external collaborator outside the
// scope of this repository.
package registry

import (
	"context"
	"log"
)

// VerifyResult reports what the registry knows about a watermark hash.
type VerifyResult struct {
	Exists   bool
	MockMode bool
	Metadata map[string]any
}

// Client is the registry collaborator interface the engine depends on.
type Client interface {
	VerifyHash(ctx context.Context, hexHash string) (VerifyResult, error)
	StoreHash(ctx context.Context, metadata map[string]any) error
}

// MockClient always reports that a hash is unknown to the registry, mirroring
// the original implementation's mock CAMP network client used when no real
// registry endpoint is configured.
type MockClient struct{}

// NewMockClient constructs the mock registry client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) VerifyHash(ctx context.Context, hexHash string) (VerifyResult, error) {
	log.Printf("[DEBUG] registry: VerifyHash(%s) served by mock client", hexHash)
	return VerifyResult{Exists: false, MockMode: true}, nil
}

func (c *MockClient) StoreHash(ctx context.Context, metadata map[string]any) error {
	log.Printf("[DEBUG] registry: StoreHash served by mock client, %d fields", len(metadata))
	return nil
}
