package ramblk

import (
	"errors"
	"fmt"
	"github.com/nyan233/ramblk/internal/sys"
	"sync"
	"sync/atomic"
)

// pageBudget is the page limit shared by every arena of a registry.
type pageBudget struct {
	limit uint64
	used  atomic.Uint64
}

func newPageBudget(limit uint64) *pageBudget {
	return &pageBudget{limit: limit}
}

func (b *pageBudget) acquire() bool {
	for {
		used := b.used.Load()
		if b.limit > 0 && used >= b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

func (b *pageBudget) refund(n uint64) {
	if n == 0 {
		return
	}
	b.used.Add(^(n - 1))
}

// pageArena hands out zero-filled page buffers carved from anonymous
// mappings. Pages are never returned one by one except for the speculative
// losers of an insertion race; everything goes back to the OS in release.
type pageArena struct {
	mu         sync.Mutex
	chunkBytes int
	chunks     [][]byte
	cur        []byte
	recycle    [][]byte
	charged    uint64
	budget     *pageBudget
}

func newPageArena(chunkPages int, budget *pageBudget) *pageArena {
	chunkBytes := chunkPages * PageSize
	// mappings are made in whole system pages
	if sysPageSize := sys.GetSysPageSize(); chunkBytes%sysPageSize != 0 {
		chunkBytes += sysPageSize - chunkBytes%sysPageSize
	}
	return &pageArena{
		chunkBytes: chunkBytes,
		budget:     budget,
	}
}

func (a *pageArena) allocPage() ([]byte, error) {
	if !a.budget.acquire() {
		return nil, fmt.Errorf("%w : page budget exhausted (%d pages)", ErrNoSpace, a.budget.limit)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycle); n > 0 {
		buf := a.recycle[n-1]
		a.recycle = a.recycle[:n-1]
		a.charged++
		return buf, nil
	}
	if len(a.cur) < PageSize {
		if err := a.grow(); err != nil {
			a.budget.refund(1)
			return nil, err
		}
	}
	buf := a.cur[:PageSize:PageSize]
	a.cur = a.cur[PageSize:]
	a.charged++
	return buf, nil
}

// grow maps a new chunk, the caller must hold a.mu.
func (a *pageArena) grow() error {
	chunk, err := sys.AllocAnon(a.chunkBytes)
	if err != nil {
		return fmt.Errorf("%w : map %d bytes : %w", ErrNoSpace, a.chunkBytes, err)
	}
	a.chunks = append(a.chunks, chunk)
	a.cur = chunk
	return nil
}

// freePage takes back a page that was never published.
func (a *pageArena) freePage(buf []byte) {
	clear(buf)
	a.mu.Lock()
	a.recycle = append(a.recycle, buf)
	a.charged--
	a.mu.Unlock()
	a.budget.refund(1)
}

// release unmaps every chunk. No page handed out before may be touched afterwards.
func (a *pageArena) release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, chunk := range a.chunks {
		if err := sys.FreeAnon(chunk); err != nil {
			errs = append(errs, err)
		}
	}
	a.budget.refund(a.charged)
	a.chunks = nil
	a.cur = nil
	a.recycle = nil
	a.charged = 0
	return errors.Join(errs...)
}

func (a *pageArena) mappedBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.chunks)) * uint64(a.chunkBytes)
}
