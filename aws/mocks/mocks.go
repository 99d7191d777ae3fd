// Package mocks provides hand-written test doubles for the AWS adapters.
package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pdfchat/rolebroker/broker"
)

// Provider is a broker.RoleProvider whose behavior is set per test.
type Provider struct {
	AssumeRoleFunc func(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error)
	RoleExistsFunc func(ctx context.Context, roleName string) error

	mu              sync.Mutex
	assumeRoleCalls int
	roleExistsCalls int
	lastAssumeInput broker.AssumeRoleInput
	lastRoleName    string
}

var _ broker.RoleProvider = (*Provider)(nil)

func (m *Provider) AssumeRole(ctx context.Context, in broker.AssumeRoleInput) (broker.Credentials, error) {
	m.mu.Lock()
	m.assumeRoleCalls++
	m.lastAssumeInput = in
	m.mu.Unlock()
	if m.AssumeRoleFunc == nil {
		return broker.Credentials{}, fmt.Errorf("AssumeRoleFunc is not set")
	}
	return m.AssumeRoleFunc(ctx, in)
}

func (m *Provider) RoleExists(ctx context.Context, roleName string) error {
	m.mu.Lock()
	m.roleExistsCalls++
	m.lastRoleName = roleName
	m.mu.Unlock()
	if m.RoleExistsFunc == nil {
		return fmt.Errorf("RoleExistsFunc is not set")
	}
	return m.RoleExistsFunc(ctx, roleName)
}

// AssumeRoleCalls returns how many times AssumeRole was called.
func (m *Provider) AssumeRoleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assumeRoleCalls
}

// RoleExistsCalls returns how many times RoleExists was called.
func (m *Provider) RoleExistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roleExistsCalls
}

// LastAssumeInput returns the most recent AssumeRole input.
func (m *Provider) LastAssumeInput() broker.AssumeRoleInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAssumeInput
}

// LastRoleName returns the most recent RoleExists argument.
func (m *Provider) LastRoleName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRoleName
}

// ObjectStore is an in-memory bucket/object store for file proxy tests.
type ObjectStore struct {
	mu      sync.Mutex
	Buckets map[string]map[string][]byte
	// Err, when set, is returned by every call.
	Err error
	// LastContentType records the content type of the latest PutObject.
	LastContentType string
}

// NewObjectStore returns an empty ObjectStore.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{Buckets: make(map[string]map[string][]byte)}
}

func (m *ObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.Buckets[bucket]; ok {
		return fmt.Errorf("bucket %s already exists", bucket)
	}
	m.Buckets[bucket] = make(map[string][]byte)
	return nil
}

func (m *ObjectStore) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	objects, ok := m.Buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *ObjectStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	objects, ok := m.Buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	objects[key] = data
	m.LastContentType = contentType
	return nil
}

func (m *ObjectStore) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if objects, ok := m.Buckets[bucket]; ok {
		delete(objects, key)
	}
	return nil
}

func (m *ObjectStore) DeleteBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	objects, ok := m.Buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	if len(objects) > 0 {
		return fmt.Errorf("bucket %s is not empty", bucket)
	}
	delete(m.Buckets, bucket)
	return nil
}
