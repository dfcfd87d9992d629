package privacy

import (
	"context"
	"strconv"
	"time"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// CoordinateSaver persists fuzzy coordinates onto the observation record.
type CoordinateSaver interface {
	SaveFuzzyCoords(ctx context.Context, observationID int64, coords models.Coordinates) error
}

// FuzzyUpdate is a freshly computed pair awaiting persistence.
type FuzzyUpdate struct {
	ObservationID int64
	Coords        models.Coordinates
}

// FuzzyCache remembers coordinates computed by this process so a row whose
// persistence failed keeps the same obscured point until the entry expires.
type FuzzyCache struct {
	fuzzifier *Fuzzifier
	memo      *cache.Cache
}

func NewFuzzyCache(f *Fuzzifier, ttl time.Duration) *FuzzyCache {
	return &FuzzyCache{
		fuzzifier: f,
		memo:      cache.New(ttl, 2*ttl),
	}
}

// Resolve returns stable fuzzy coordinates for o. computed is true only when
// the pair was drawn by this call and still needs persisting.
func (c *FuzzyCache) Resolve(o *models.Observation) (coords models.Coordinates, computed bool) {
	if o.FuzzyCoords != nil {
		return *o.FuzzyCoords, false
	}

	key := strconv.FormatInt(o.ID, 10)
	if v, ok := c.memo.Get(key); ok {
		return v.(models.Coordinates), false
	}

	coords, _ = c.fuzzifier.FuzzyCoords(o)
	c.memo.SetDefault(key, coords)
	return coords, true
}

// Forget drops the memo once the pair has been persisted.
func (c *FuzzyCache) Forget(id int64) {
	c.memo.Delete(strconv.FormatInt(id, 10))
}

// Persist stores a computed pair and drops its memo. Failures are logged and
// the memo is kept so later reads stay stable.
func (c *FuzzyCache) Persist(ctx context.Context, saver CoordinateSaver, u FuzzyUpdate) {
	if saver == nil {
		return
	}
	if err := saver.SaveFuzzyCoords(ctx, u.ObservationID, u.Coords); err != nil {
		zap.L().Warn("[PRIVACY] failed to persist fuzzy coordinates",
			zap.Int64("observation_id", u.ObservationID), zap.Error(err))
		return
	}
	c.Forget(u.ObservationID)
}
