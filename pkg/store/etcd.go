package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultPrefix = "/decision"

type EtcdManager struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdManager connects to etcd. Keys live under prefix (DefaultPrefix if empty).
func NewEtcdManager(endpoints []string, prefix string, dialTimeout time.Duration) (*EtcdManager, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd %v: %w", endpoints, err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdManager{client: cli, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}

func (e *EtcdManager) taskKey(id string) string     { return e.prefix + "/tasks/" + id }
func (e *EtcdManager) indexKey(route string) string { return e.prefix + "/index/" + route }

// ---------------------------------------------------------
// Tasks
// ---------------------------------------------------------

func (e *EtcdManager) CreateTask(ctx context.Context, id string, definition json.RawMessage) error {
	if !json.Valid(definition) {
		return fmt.Errorf("task %s: definition is not valid JSON", id)
	}
	created, err := e.putIfAbsent(ctx, e.taskKey(id), string(definition))
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("task %s: %w", id, ErrExists)
	}
	return nil
}

func (e *EtcdManager) GetTask(ctx context.Context, id string) (json.RawMessage, error) {
	resp, err := e.client.Get(ctx, e.taskKey(id))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return json.RawMessage(resp.Kvs[0].Value), nil
}

// ---------------------------------------------------------
// Index
// ---------------------------------------------------------

func (e *EtcdManager) IndexTask(ctx context.Context, route, taskID string, ttl time.Duration) error {
	lease, err := e.grant(ctx, ttl)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, e.indexKey(route), taskID, clientv3.WithLease(lease))
	return err
}

func (e *EtcdManager) FindTask(ctx context.Context, route string) (string, error) {
	resp, err := e.client.Get(ctx, e.indexKey(route))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("index route %s: %w", route, ErrNotFound)
	}
	return string(resp.Kvs[0].Value), nil
}

// ---------------------------------------------------------
// Helpers
// ---------------------------------------------------------

// putIfAbsent writes key only when it has never been created.
func (e *EtcdManager) putIfAbsent(ctx context.Context, key, val string, opts ...clientv3.OpOption) (bool, error) {
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, val, opts...)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (e *EtcdManager) grant(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error) {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	resp, err := e.client.Grant(ctx, secs)
	if err != nil {
		return 0, fmt.Errorf("grant lease: %w", err)
	}
	return resp.ID, nil
}
