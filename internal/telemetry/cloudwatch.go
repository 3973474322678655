// Package telemetry buffers request metrics and ships them to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"crowdpark/internal/types"
)

// maxDatumsPerCall is the PutMetricData per-request limit.
const maxDatumsPerCall = 1000

// maxBuffered caps memory when CloudWatch is unreachable; older datums are
// dropped first.
const maxBuffered = 20000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector records API and domain metrics in memory and
// publishes them on Flush. It is safe for concurrent use.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	buf     []cwtypes.MetricDatum
	dropped int
}

// NewCloudWatchCollector creates a collector. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest records latency and a count for one API request.
func (c *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ts := aws.Time(c.now())
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}
	c.add(
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Microseconds()) / 1000),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  ts,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
			Dimensions: dims,
		},
	)
}

// RecordLowAvailability counts one forecast below the fallback trigger.
func (c *CloudWatchCollector) RecordLowAvailability() {
	c.add(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricLowAvailability),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(c.now()),
	})
}

func (c *CloudWatchCollector) add(d ...cwtypes.MetricDatum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, d...)
	if over := len(c.buf) - maxBuffered; over > 0 {
		c.buf = append(c.buf[:0:0], c.buf[over:]...)
		c.dropped += over
	}
}

// Pending is the number of buffered datums.
func (c *CloudWatchCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Flush publishes everything buffered. Datums from a failed call are put
// back for the next flush.
func (c *CloudWatchCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.buf
	c.buf = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("metric buffer overflowed", "dropped", dropped)
	}

	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			c.add(pending[start:]...)
			return err
		}
	}
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short grace period.
func (c *CloudWatchCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.logger.Error("final metric flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("metric flush failed", "error", err)
			}
		}
	}
}

// NopCollector discards all metrics.
type NopCollector struct{}

// RecordRequest implements the request metrics interface.
func (NopCollector) RecordRequest(string, string, string, time.Duration) {}

// RecordLowAvailability does nothing.
func (NopCollector) RecordLowAvailability() {}
