package destination

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/avarfc/internal/cache"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// MetadataRecorder receives metadata cache lookups.
type MetadataRecorder interface {
	RecordMetadataLookup(destination string, hit bool)
}

// cachedDestination serves function metadata from a cache in front of the
// destination's repository. Unknown functions are never cached, so a
// function deployed later becomes visible on the next request.
type cachedDestination struct {
	rfc.Destination
	cache    cache.Cache
	recorder MetadataRecorder
	logger   observability.Logger
}

func newCachedDestination(
	dest rfc.Destination,
	c cache.Cache,
	recorder MetadataRecorder,
	logger observability.Logger,
) *cachedDestination {
	return &cachedDestination{Destination: dest, cache: c, recorder: recorder, logger: logger}
}

func (d *cachedDestination) FunctionSchema(ctx context.Context, function string) (*rfc.FunctionSchema, error) {
	key := d.Name() + "/" + function

	if data, err := d.cache.Get(ctx, key); err == nil {
		var schema rfc.FunctionSchema
		if err := wire.Unmarshal(data, &schema); err == nil {
			d.record(true)
			return &schema, nil
		}
		d.logger.Warn("dropping undecodable metadata cache entry", observability.String("key", key))
		_ = d.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		d.logger.Warn("metadata cache lookup failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
	d.record(false)

	schema, err := d.Destination.FunctionSchema(ctx, function)
	if err != nil || schema == nil {
		return schema, err
	}

	if data, err := wire.Marshal(schema); err == nil {
		if err := d.cache.Set(ctx, key, data, 0); err != nil {
			d.logger.Warn("metadata cache store failed",
				observability.String("key", key),
				observability.Error(err),
			)
		}
	}
	return schema, nil
}

// Close closes the cache and the wrapped destination.
func (d *cachedDestination) Close() error {
	err := d.cache.Close()
	if c, ok := d.Destination.(interface{ Close() error }); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func (d *cachedDestination) record(hit bool) {
	if d.recorder != nil {
		d.recorder.RecordMetadataLookup(d.Name(), hit)
	}
}
