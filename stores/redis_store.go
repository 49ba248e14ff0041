package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/gatekeeper"
)

const redisWalkBatch = 64

// RedisObligationStore keeps obligation records as JSON values (key:
// obl:{id}) with sorted-set indexes per category, severity and document plus
// one covering all ids. All members share score 0 so ZRANGEBYLEX walks each
// index in ascending id order, which is exactly the iteration the planner's
// cursor contract requires.
type RedisObligationStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "obl:%s"
}

func NewRedisObligationStore(client *redis.Client) *RedisObligationStore {
	return &RedisObligationStore{client: client, keyFmt: "obl:%s"}
}

func (s *RedisObligationStore) key(id string) string {
	return fmt.Sprintf(s.keyFmt, id)
}

func (s *RedisObligationStore) indexKey(kind, value string) string {
	return fmt.Sprintf("obl:idx:%s:%s", kind, value)
}

// Put stores the record and registers it in every applicable index.
func (s *RedisObligationStore) Put(ctx context.Context, o *gatekeeper.Obligation) error {
	if err := s.Delete(ctx, o.ID); err != nil {
		return err
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(o.ID), b, 0)
	member := redis.Z{Score: 0, Member: o.ID}
	pipe.ZAdd(ctx, s.indexKey("all", "all"), member)
	if o.Category != "" {
		pipe.ZAdd(ctx, s.indexKey("category", o.Category), member)
	}
	if o.Severity != "" {
		pipe.ZAdd(ctx, s.indexKey("severity", o.Severity), member)
	}
	if o.DocumentID != "" {
		pipe.ZAdd(ctx, s.indexKey("document", o.DocumentID), member)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes the record and every index entry pointing at it.
func (s *RedisObligationStore) Delete(ctx context.Context, id string) error {
	old, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey("all", "all"), id)
	if old.Category != "" {
		pipe.ZRem(ctx, s.indexKey("category", old.Category), id)
	}
	if old.Severity != "" {
		pipe.ZRem(ctx, s.indexKey("severity", old.Severity), id)
	}
	if old.DocumentID != "" {
		pipe.ZRem(ctx, s.indexKey("document", old.DocumentID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the record, or nil when absent.
func (s *RedisObligationStore) Get(ctx context.Context, id string) (*gatekeeper.Obligation, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := &gatekeeper.Obligation{}
	if err := json.Unmarshal(b, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Query walks the planned index in lexicographic batches, fetching record
// bodies per batch. The composite path walks the category index and drops
// severity mismatches after the fetch; only matches count toward the limit.
func (s *RedisObligationStore) Query(ctx context.Context, plan *gatekeeper.QueryPlan) (*gatekeeper.QueryPage, error) {
	var idx string
	severityFilter := ""
	switch plan.Path {
	case gatekeeper.PathCategorySeverity:
		idx = s.indexKey("category", plan.Category)
		severityFilter = plan.Severity
	case gatekeeper.PathCategory:
		idx = s.indexKey("category", plan.Category)
	case gatekeeper.PathSeverity:
		idx = s.indexKey("severity", plan.Severity)
	case gatekeeper.PathDocument:
		idx = s.indexKey("document", plan.DocumentID)
	default:
		idx = s.indexKey("all", "all")
	}

	min := "-"
	if plan.StartAfter != nil {
		min = "(" + plan.StartAfter.ID
	}

	page := &gatekeeper.QueryPage{Items: make([]*gatekeeper.Obligation, 0, plan.Limit)}
	for {
		ids, err := s.client.ZRangeByLex(ctx, idx, &redis.ZRangeBy{
			Min:   min,
			Max:   "+",
			Count: redisWalkBatch,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return page, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.key(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Index entry outlived its record; skip it.
				continue
			}
			o := &gatekeeper.Obligation{}
			if err := json.Unmarshal([]byte(raw), o); err != nil {
				return nil, fmt.Errorf("corrupt record %s: %w", ids[i], err)
			}
			if severityFilter != "" && o.Severity != severityFilter {
				continue
			}
			page.Items = append(page.Items, o)
			if len(page.Items) == plan.Limit {
				page.LastKey = &gatekeeper.StoreKey{ID: o.ID}
				return page, nil
			}
		}

		min = "(" + ids[len(ids)-1]
	}
}
