package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/orderwatch/internal/dispatch"
	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// multipartThreshold is the payload size above which snapshot uploads switch
// to the multipart path.
const multipartThreshold = 8 * 1024 * 1024

// SnapshotArchiver persists every completed synchronization snapshot to the
// object store as an NDJSON document. Uploads are best-effort: a failed
// upload is logged and the next snapshot gets a fresh attempt.
type SnapshotArchiver struct {
	writer *Writer
	prefix string
	logger *slog.Logger

	// timeout bounds each upload.
	timeout time.Duration

	token string
	now   func() time.Time
}

// NewSnapshotArchiver creates an archiver writing through the given client's
// bucket. Object keys are placed under prefix.
func NewSnapshotArchiver(c *Client, prefix string, logger *slog.Logger) *SnapshotArchiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchiver{
		writer:  NewWriter(c),
		prefix:  strings.TrimSuffix(prefix, "/"),
		logger:  logger.With(slog.String("component", "snapshot_archiver")),
		timeout: 30 * time.Second,
		now:     time.Now,
	}
}

// Attach subscribes the archiver to completed-synchronization notifications.
func (a *SnapshotArchiver) Attach(bus *dispatch.Dispatcher) {
	a.token = bus.Subscribe(domain.TopicSyncComplete, "s3-archiver", func(payload any) {
		snapshot, ok := payload.(map[uint64]domain.OrderRecord)
		if !ok {
			return
		}
		// Upload off the dispatcher's goroutine so a slow object store
		// never stalls other subscribers.
		go a.archive(snapshot)
	})
}

// Detach removes the archiver's subscription.
func (a *SnapshotArchiver) Detach(bus *dispatch.Dispatcher) {
	bus.Unsubscribe(domain.TopicSyncComplete, a.token)
}

func (a *SnapshotArchiver) archive(snapshot map[uint64]domain.OrderRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	body, err := encodeSnapshot(snapshot)
	if err != nil {
		a.logger.Warn("snapshot encode failed", slog.String("error", err.Error()))
		return
	}

	key := a.objectKey(a.now().UTC())

	if int64(body.Len()) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, body, 0)
	} else {
		err = a.writer.Put(ctx, key, body, "application/x-ndjson")
	}
	if err != nil {
		a.logger.Warn("snapshot upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.Info("snapshot archived",
		slog.String("key", key),
		slog.Int("orders", len(snapshot)),
	)
}

// objectKey builds a date-partitioned key like
// "snapshots/2026/08/29/orders-1788000000.ndjson".
func (a *SnapshotArchiver) objectKey(t time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/orders-%d.ndjson",
		a.prefix, t.Year(), int(t.Month()), t.Day(), t.Unix())
}

// encodeSnapshot serializes the snapshot as one JSON object per line,
// ordered by id for stable diffs between consecutive snapshots.
func encodeSnapshot(snapshot map[uint64]domain.OrderRecord) (*bytes.Buffer, error) {
	ids := make([]uint64, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		rec := snapshot[id]
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: encode order %d: %w", id, err)
		}
	}
	return &buf, nil
}
