package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reconcile:v1:"

// trackScript inserts an event only if its key is new.
const trackScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'event', ARGV[1], 'status', 'pending', 'attempts', 0,
	'last_error', '', 'next_attempt', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[3])
return 1
`

// transitionScript moves an event between statuses if it is still in the
// expected one. Returns -1 when missing, 0 on status mismatch, 1 on success.
const transitionScript = `
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'attempts', ARGV[3],
	'last_error', ARGV[4], 'next_attempt', ARGV[5], 'updated_at', ARGV[6])
redis.call('SREM', KEYS[3] .. cur, ARGV[7])
redis.call('SADD', KEYS[3] .. ARGV[2], ARGV[7])
if ARGV[2] == 'pending' then
	redis.call('ZADD', KEYS[2], ARGV[5], ARGV[7])
else
	redis.call('ZREM', KEYS[2], ARGV[7])
end
return 1
`

// Queue tracks provider events in Redis until they are applied or abandoned.
// Failed events stay queryable with their attempt count and last error.
type Queue struct {
	client *redis.Client
}

// NewQueue builds a Redis-backed event queue.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func eventKey(key string) string    { return keyPrefix + "event:" + key }
func statusKey(s Status) string     { return keyPrefix + "status:" + string(s) }
func dueKey() string                { return keyPrefix + "due" }
func statusPrefix() string          { return keyPrefix + "status:" }
func millis(t time.Time) int64      { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Track starts tracking an event. It reports false when the event was already
// known. Defaults are applied before validation, so polled and pushed events
// are keyed the same way.
func (q *Queue) Track(ctx context.Context, ev PaymentEvent, now time.Time) (bool, error) {
	ev = ev.normalized()
	if err := ev.Validate(); err != nil {
		return false, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}
	k := ev.key()
	res, err := q.client.Eval(ctx, trackScript,
		[]string{eventKey(k), dueKey(), statusKey(StatusPending)},
		string(payload), millis(now), k,
	).Int()
	if err != nil {
		return false, fmt.Errorf("track event: %w", err)
	}
	return res == 1, nil
}

// Get returns the record stored under kind and reference.
func (q *Queue) Get(ctx context.Context, kind EventKind, reference string) (Record, error) {
	return q.get(ctx, string(kind)+":"+reference)
}

func (q *Queue) get(ctx context.Context, key string) (Record, error) {
	fields, err := q.client.HGetAll(ctx, eventKey(key)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load event: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrEventNotFound
	}
	var rec Record
	if err := json.Unmarshal([]byte(fields["event"]), &rec.Event); err != nil {
		return Record{}, fmt.Errorf("decode event: %w", err)
	}
	rec.Status = Status(fields["status"])
	rec.Attempts, _ = strconv.Atoi(fields["attempts"])
	rec.LastError = fields["last_error"]
	if ms, err := strconv.ParseInt(fields["next_attempt"], 10, 64); err == nil {
		rec.NextAttempt = fromMillis(ms)
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = fromMillis(ms)
	}
	return rec, nil
}

// Due returns pending events whose next attempt is at or before now, oldest first.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	keys, err := q.client.ZRangeByScore(ctx, dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(millis(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("load due events: %w", err)
	}
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := q.get(ctx, k)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns all records in the given status ordered by last update.
func (q *Queue) List(ctx context.Context, status Status) ([]Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	keys, err := q.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := q.get(ctx, k)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].Event.key() < records[j].Event.key()
		}
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

// Counts returns the number of tracked events per status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int64, error) {
	statuses := []Status{StatusPending, StatusApplied, StatusRejected, StatusStalled, StatusAbandoned}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(statuses))
	for i, s := range statuses {
		cmds[i] = pipe.SCard(ctx, statusKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	out := make(map[Status]int64, len(statuses))
	for i, s := range statuses {
		out[s] = cmds[i].Val()
	}
	return out, nil
}

// transition moves rec from its current status to next. The update is applied
// only if the stored status still equals rec.Status.
func (q *Queue) transition(ctx context.Context, rec Record, next Status, now time.Time) error {
	k := rec.Event.key()
	res, err := q.client.Eval(ctx, transitionScript,
		[]string{eventKey(k), dueKey(), statusPrefix()},
		string(rec.Status), string(next), rec.Attempts, rec.LastError,
		millis(rec.NextAttempt), millis(now), k,
	).Int()
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	switch res {
	case -1:
		return ErrEventNotFound
	case 0:
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, k, rec.Status)
	}
	return nil
}
