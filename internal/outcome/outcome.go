// Package outcome pushes completed grades to external consumers. Reports are
// enqueued on a Redis stream; a separate reporting worker drains the stream
// and performs the actual consumer calls.
package outcome

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Report is one grade to push back to an external consumer.
type Report struct {
	Username    string  `json:"username"`
	CourseID    string  `json:"course_id"`
	TaskID      string  `json:"task_id"`
	ConsumerKey string  `json:"consumer_key"`
	ServiceURL  string  `json:"service_url"`
	ResultID    string  `json:"result_id"`
	Grade       float64 `json:"grade"`
}

// Reporter enqueues grade reports for asynchronous delivery.
type Reporter interface {
	Enqueue(ctx context.Context, r Report) error
}

// Compile-time interface satisfaction checks.
var (
	_ Reporter = (*RedisReporter)(nil)
	_ Reporter = NopReporter{}
)

// RedisReporter publishes reports to a Redis stream.
type RedisReporter struct {
	rdb    *redis.Client
	stream string
}

// NewRedisReporter creates a reporter publishing to the given stream.
func NewRedisReporter(rdb *redis.Client, stream string) *RedisReporter {
	return &RedisReporter{rdb: rdb, stream: stream}
}

// EnsureConsumerGroup creates the delivery worker's consumer group, tolerating
// one that already exists.
func (r *RedisReporter) EnsureConsumerGroup(ctx context.Context, group string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends the report to the stream.
func (r *RedisReporter) Enqueue(ctx context.Context, rep Report) error {
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"username":     rep.Username,
			"course_id":    rep.CourseID,
			"task_id":      rep.TaskID,
			"consumer_key": rep.ConsumerKey,
			"service_url":  rep.ServiceURL,
			"result_id":    rep.ResultID,
			"grade":        rep.Grade,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue grade report: %w", err)
	}
	return nil
}

// NopReporter discards every report. Used when no Redis is configured.
type NopReporter struct{}

// Enqueue implements Reporter.
func (NopReporter) Enqueue(context.Context, Report) error { return nil }
