package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/storage"
)

// Config 描述 Redis 连接。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// BlobStore 把工具原始数据写入 Redis。
type BlobStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewBlobStore 建立连接并验证可用性。
func NewBlobStore(ctx context.Context, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewBlobStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewBlobStoreWithClient 复用已有客户端。
func NewBlobStoreWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *BlobStore {
	return &BlobStore{client: client, prefix: prefix, ttl: ttl}
}

// Put 实现 storage.BlobStore，返回不含前缀的数据指针。
func (s *BlobStore) Put(ctx context.Context, key string, blob []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "blob key is empty")
	}
	if err := s.client.Set(ctx, s.prefix+key, blob, s.ttl).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入 %s 失败", key))
	}
	return key, nil
}

// Get 实现 storage.BlobStore。
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, xerrors.New(storage.CodeBlobNotFound, "blob "+key+" not found")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取 %s 失败", key))
	}
	return blob, nil
}

// Close 实现 storage.BlobStore。
func (s *BlobStore) Close() error {
	return s.client.Close()
}

var _ storage.BlobStore = (*BlobStore)(nil)
