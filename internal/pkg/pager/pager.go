package pager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/btreebase/btreebase/internal/pkg/page"
)

// DBFile is the subset of file behaviour the pager needs. afero files and
// *os.File both satisfy it.
type DBFile interface {
	io.ReadSeeker
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Pager maps page identifiers to offsets in a single page file and caches
// loaded pages with LRU eviction. Page numbers are 1-based, so page N lives
// at file offset (N-1) * page.Size; number 0 stays free for the "no page"
// sentinel in overflow links.
//
// The pager hands out pages for exclusive use; a page must be flushed before
// another component may read its on-disk image.
type Pager struct {
	maxCachedPages int
	totalPages     uint64

	pages map[page.PageID]*page.Page

	// LRU tracking: most recently used at the end
	lruList []page.PageID

	file     DBFile
	fileSize int64

	logger *zap.Logger

	mu sync.RWMutex
}

// Open opens (or creates) a page file on the given filesystem and wraps it
// in a pager.
func Open(fs afero.Fs, path string, maxCachedPages int, logger *zap.Logger) (*Pager, error) {
	file, err := fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening page file: %w", err)
	}
	aPager, err := New(file, maxCachedPages, logger)
	if err != nil {
		file.Close()
		return nil, err
	}
	return aPager, nil
}

// New wraps an already opened page file.
// maxCachedPages: maximum number of pages to keep in cache (0 = default limit)
func New(file DBFile, maxCachedPages int, logger *zap.Logger) (*Pager, error) {
	if maxCachedPages <= 0 {
		maxCachedPages = 1000 // default limit
	}
	aPager := &Pager{
		maxCachedPages: maxCachedPages,
		pages:          make(map[page.PageID]*page.Page, maxCachedPages),
		lruList:        make([]page.PageID, 0, maxCachedPages),
		file:           file,
		logger:         logger,
	}

	fileSize, err := aPager.file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	aPager.fileSize = fileSize

	// Basic check to verify file size is a multiple of page size (4096B)
	if fileSize%page.Size != 0 {
		return nil, fmt.Errorf("page file size is not divisible by page size: %d", fileSize)
	}
	aPager.totalPages = uint64(fileSize / page.Size)

	return aPager, nil
}

func (p *Pager) Close() error {
	return p.file.Close()
}

func (p *Pager) TotalPages() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalPages
}

// GetPage returns the page with the given number, reading it from the file
// on a cache miss. Loading validates the page's magic marker and free-space
// bookkeeping, so a corrupted or misdirected read surfaces here rather than
// as garbage cells later.
func (p *Pager) GetPage(ctx context.Context, pageID page.PageID) (*page.Page, error) {
	if pageID == 0 {
		return nil, fmt.Errorf("page number must be positive")
	}

	// Check if page already exists in cache
	p.mu.RLock()
	if aPage, ok := p.pages[pageID]; ok {
		p.mu.RUnlock()
		p.trackPageAccess(pageID)
		return aPage, nil
	}
	totalPages := p.totalPages
	p.mu.RUnlock()

	if uint64(pageID) > totalPages {
		return nil, fmt.Errorf("page %d does not exist, file has %d pages", pageID, totalPages)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check the page wasn't loaded while we waited for the write lock
	if aPage, ok := p.pages[pageID]; ok {
		p.updateLRU(pageID)
		return aPage, nil
	}

	p.evictIfNeeded()

	buf := make([]byte, page.Size)
	if _, err := p.file.ReadAt(buf, fileOffset(pageID)); err != nil {
		return nil, fmt.Errorf("reading page %d: %w", pageID, err)
	}

	aPage := new(page.Page)
	if err := aPage.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("loading page %d: %w", pageID, err)
	}

	p.pages[pageID] = aPage
	p.updateLRU(pageID)

	p.logger.Debug("page loaded", zap.Uint64("page", uint64(pageID)))

	return aPage, nil
}

// AllocatePage appends a fresh empty page to the file's logical page space
// and returns it together with its new number. The page reaches disk on the
// next Flush.
func (p *Pager) AllocatePage(ctx context.Context) (page.PageID, *page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictIfNeeded()

	pageID := page.PageID(p.totalPages + 1)
	aPage := page.NewPage()

	p.pages[pageID] = aPage
	p.totalPages++
	p.updateLRU(pageID)

	p.logger.Debug("page allocated", zap.Uint64("page", uint64(pageID)))

	return pageID, aPage, nil
}

// Flush writes the page's current image to the file. Flushing a page that is
// no longer cached is a no-op.
func (p *Pager) Flush(ctx context.Context, pageID page.PageID) error {
	p.mu.RLock()
	aPage, ok := p.pages[pageID]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	buf, err := aPage.Marshal(make([]byte, page.Size))
	if err != nil {
		return fmt.Errorf("error flushing page %d: %w", pageID, err)
	}

	if _, err := p.file.WriteAt(buf, fileOffset(pageID)); err != nil {
		return fmt.Errorf("error writing page %d: %w", pageID, err)
	}

	return nil
}

// FlushAll writes every cached page to the file, collecting per-page errors
// instead of stopping at the first one.
func (p *Pager) FlushAll(ctx context.Context) error {
	p.mu.RLock()
	pageIDs := make([]page.PageID, 0, len(p.pages))
	for pageID := range p.pages {
		pageIDs = append(pageIDs, pageID)
	}
	p.mu.RUnlock()

	var err error
	for _, pageID := range pageIDs {
		err = multierr.Append(err, p.Flush(ctx, pageID))
	}
	return err
}

func fileOffset(pageID page.PageID) int64 {
	return int64(pageID-1) * page.Size
}

// updateLRU updates the LRU list for the given page (must be called with lock held)
func (p *Pager) updateLRU(pageID page.PageID) {
	for i, id := range p.lruList {
		if id == pageID {
			p.lruList = append(p.lruList[:i], p.lruList[i+1:]...)
			break
		}
	}
	// Add to end (most recently used)
	p.lruList = append(p.lruList, pageID)
}

// trackPageAccess updates LRU tracking (thread-safe version for fast path)
func (p *Pager) trackPageAccess(pageID page.PageID) {
	p.mu.Lock()
	p.updateLRU(pageID)
	p.mu.Unlock()
}

// evictIfNeeded drops least recently used pages once the cache is full (must
// be called with lock held). Evicted pages must have been flushed; the next
// GetPage rereads them from the file.
func (p *Pager) evictIfNeeded() {
	for len(p.pages) >= p.maxCachedPages && len(p.lruList) > 0 {
		pageID := p.lruList[0]
		p.lruList = p.lruList[1:]
		delete(p.pages, pageID)

		p.logger.Debug("page evicted", zap.Uint64("page", uint64(pageID)))
	}
}
