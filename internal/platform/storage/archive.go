// Package storage keeps raw payment webhook payloads in Cloud Storage for audit and replay.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/karimtraders/grocery/internal/services"
)

// ObjectAttrs are written alongside an archived object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectSink persists an object exactly once. Writing an object that already exists is not an error.
type ObjectSink interface {
	Put(ctx context.Context, object string, attrs ObjectAttrs, data []byte) error
}

// WebhookArchive implements services.WebhookArchive on top of an ObjectSink.
type WebhookArchive struct {
	sink ObjectSink
}

var _ services.WebhookArchive = (*WebhookArchive)(nil)

// NewWebhookArchive constructs an archive that writes through sink.
func NewWebhookArchive(sink ObjectSink) (*WebhookArchive, error) {
	if sink == nil {
		return nil, errors.New("webhook archive: sink is required")
	}
	return &WebhookArchive{sink: sink}, nil
}

// Archive stores the raw body of log.
func (a *WebhookArchive) Archive(ctx context.Context, log services.WebhookLog) error {
	if a == nil || a.sink == nil {
		return errors.New("webhook archive: not initialised")
	}
	if len(log.RawPayload) == 0 {
		return fmt.Errorf("webhook archive: log %s has no payload", log.ID)
	}
	object, err := WebhookPayloadPath(log.Provider, log.ID, log.ReceivedAt)
	if err != nil {
		return err
	}
	attrs := ObjectAttrs{
		ContentType: "application/json",
		Metadata: map[string]string{
			"provider":       log.Provider,
			"eventType":      log.EventType,
			"eventId":        log.EventID,
			"signatureValid": strconv.FormatBool(log.SignatureValid),
			"receivedAt":     log.ReceivedAt.UTC().Format(time.RFC3339),
		},
	}
	for k, v := range attrs.Metadata {
		if strings.TrimSpace(v) == "" {
			delete(attrs.Metadata, k)
		}
	}
	if err := a.sink.Put(ctx, object, attrs, log.RawPayload); err != nil {
		return fmt.Errorf("webhook archive: put %s: %w", object, err)
	}
	return nil
}

// BucketSink writes objects into a single Cloud Storage bucket.
type BucketSink struct {
	bucket *gcs.BucketHandle
}

// NewBucketSink constructs a sink for bucket.
func NewBucketSink(client *gcs.Client, bucket string) (*BucketSink, error) {
	if client == nil {
		return nil, errors.New("bucket sink: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket sink: bucket name is required")
	}
	return &BucketSink{bucket: client.Bucket(bucket)}, nil
}

// Put uploads data with a does-not-exist precondition so a redelivered payload never overwrites
// the first copy.
func (s *BucketSink) Put(ctx context.Context, object string, attrs ObjectAttrs, data []byte) error {
	w := s.bucket.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.Metadata = attrs.Metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return err
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *BucketSink) Ping(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	return err
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// WebhookPayloadPath names the archived object:
// webhooks/{provider}/{yyyy}/{mm}/{dd}/{logID}.json, dated by the UTC receive time.
func WebhookPayloadPath(provider, logID string, receivedAt time.Time) (string, error) {
	if receivedAt.IsZero() {
		return "", errors.New("storage: receivedAt is required")
	}
	segments := map[string]string{"provider": strings.ToLower(provider), "logID": logID}
	for _, name := range []string{"provider", "logID"} {
		value := strings.TrimSpace(segments[name])
		if value == "" || value == "." || strings.ContainsAny(value, `/\`) || strings.Contains(value, "..") {
			return "", fmt.Errorf("storage: invalid %s %q", name, segments[name])
		}
		segments[name] = value
	}
	return path.Join("webhooks", segments["provider"], receivedAt.UTC().Format("2006/01/02"), segments["logID"]+".json"), nil
}
