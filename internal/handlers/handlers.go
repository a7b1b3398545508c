package handlers

import (
	"sync/atomic"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/cache"
	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/media"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	syncengine "github.com/opj161/smart-comfyui-gallery/internal/sync"
)

const (
	queryCacheSize = 50
	queryCacheTTL  = 300 * time.Second
)

type Handlers struct {
	db         *database.Database
	engine     *syncengine.Engine
	workflows  *media.WorkflowSource
	thumbs     *media.ThumbnailGenerator
	classifier *mediatypes.Classifier
	mediaDir   string

	filterCache *cache.Bounded[string, *database.FilterOptions]
	folderCache *cache.Bounded[string, []FolderNode]

	ready     atomic.Bool
	startedAt time.Time
}

func New(db *database.Database, engine *syncengine.Engine, workflows *media.WorkflowSource,
	thumbs *media.ThumbnailGenerator, classifier *mediatypes.Classifier, mediaDir string) *Handlers {
	return &Handlers{
		db:          db,
		engine:      engine,
		workflows:   workflows,
		thumbs:      thumbs,
		classifier:  classifier,
		mediaDir:    mediaDir,
		filterCache: cache.NewBounded[string, *database.FilterOptions](queryCacheSize, queryCacheTTL),
		folderCache: cache.NewBounded[string, []FolderNode](queryCacheSize, queryCacheTTL),
		startedAt:   time.Now(),
	}
}

// SetEngine attaches the sync engine. The engine's completion callback
// points back at the handler caches, so the two are wired in two steps.
func (h *Handlers) SetEngine(engine *syncengine.Engine) {
	h.engine = engine
}

// SetReady marks the service ready once the initial sync has completed.
func (h *Handlers) SetReady() {
	h.ready.Store(true)
}

// InvalidateQueryCaches drops cached aggregates after the index changed.
// Wired as the sync engine's completion callback.
func (h *Handlers) InvalidateQueryCaches() {
	h.filterCache.Clear()
	h.folderCache.Clear()
}
