package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "video_job:"
)

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Store はジョブ状態を Redis に保存します。Redis に到達できない場合は
// プロセス内マップへ透過的にフォールバックします（耐久性はベストエフォート）。
// 書き込みは常にレコード全体の上書きで、毎回 TTL を更新します。
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu  sync.RWMutex
	mem map[string]memEntry
}

// NewStore は Store を作成します。rdb に nil を渡すとメモリのみで動作します。
func NewStore(rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Store {
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		mem:    make(map[string]memEntry),
	}
}

// Get はジョブレコードを取得します。存在しない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
		if err == nil {
			return decodeRecord(data)
		}
		if err == redis.Nil {
			return nil, nil
		}
		s.logf("redis get failed job=%s, falling back to memory: %v", jobID, err)
	}
	return s.memGet(jobID)
}

// Put はジョブレコードを保存します。last_updated を刻印し、TTL を更新します。
func (s *Store) Put(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}
	now := time.Now().UTC()
	if record.StartTime == 0 {
		record.StartTime = now.Unix()
	}
	record.LastUpdated = now.Unix()

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if s.rdb != nil {
		err := s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
		if err == nil {
			return nil
		}
		s.logf("redis set failed job=%s, falling back to memory: %v", record.JobID, err)
	}

	s.mu.Lock()
	s.mem[record.JobID] = memEntry{payload: payload, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Sweep はメモリフォールバック側の期限切れレコードを回収します。
// Redis 側の回収は TTL に任せます。掃除した件数を返します。
func (s *Store) Sweep() int {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.mem {
		if now.After(entry.expiresAt) {
			delete(s.mem, id)
			removed++
		}
	}
	return removed
}

func (s *Store) memGet(jobID string) (*Record, error) {
	s.mu.RLock()
	entry, ok := s.mem[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().UTC().After(entry.expiresAt) {
		return nil, nil
	}
	return decodeRecord(entry.payload)
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse job record: %w", err)
	}
	return &record, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
