package ramblk

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	radixShift = 6
	radixSlots = 1 << radixShift
	radixMask  = radixSlots - 1
)

type page struct {
	index uint64
	buf   []byte
}

// radixNode slots hold *radixNode above the leaf level and *page at it.
type radixNode struct {
	slots [radixSlots]unsafe.Pointer
}

func (n *radixNode) load(i uint64) unsafe.Pointer {
	return atomic.LoadPointer(&n.slots[i])
}

func (n *radixNode) store(i uint64, p unsafe.Pointer) {
	atomic.StorePointer(&n.slots[i], p)
}

// radixRoot is replaced as a whole when the tree gets taller, readers that
// loaded an older root still see a correct tree for the indexes it covers.
type radixRoot struct {
	node   *radixNode
	height uint
}

func (r *radixRoot) covers(index uint64) bool {
	shift := radixShift * r.height
	return shift >= 64 || index>>shift == 0
}

// pageStore maps page index to page. Published pages are never replaced or
// removed while the device is live, so lookup takes no lock; mu only
// serializes the check-then-publish of insertions.
type pageStore struct {
	mu    sync.Mutex
	root  atomic.Pointer[radixRoot]
	count atomic.Uint64
	arena *pageArena
	stat  *iStat
}

func newPageStore(arena *pageArena, stat *iStat) *pageStore {
	return &pageStore{
		arena: arena,
		stat:  stat,
	}
}

func (s *pageStore) lookup(index uint64) *page {
	r := s.root.Load()
	if r == nil || !r.covers(index) {
		return nil
	}
	node := r.node
	for h := r.height; h > 1; h-- {
		next := node.load((index >> (radixShift * (h - 1))) & radixMask)
		if next == nil {
			return nil
		}
		node = (*radixNode)(next)
	}
	p := (*page)(node.load(index & radixMask))
	if p != nil && p.index != index {
		panic(fmt.Sprintf("page store found page %d at index %d", p.index, index))
	}
	return p
}

// insertIfAbsent returns the page at index, publishing a zero-filled one
// first when there is none. The buffer is allocated before taking the lock;
// when another inserter published first the candidate goes back to the arena.
func (s *pageStore) insertIfAbsent(index uint64) (*page, error) {
	if p := s.lookup(index); p != nil {
		return p, nil
	}
	buf, err := s.arena.allocPage()
	if err != nil {
		s.stat.allocFail.Add(1)
		return nil, err
	}
	candidate := &page{index: index, buf: buf}
	s.mu.Lock()
	leaf, slot := s.leafLocked(index)
	winner := (*page)(leaf.load(slot))
	if winner == nil {
		leaf.store(slot, unsafe.Pointer(candidate))
		s.count.Add(1)
	}
	s.mu.Unlock()
	if winner != nil {
		s.arena.freePage(buf)
		s.stat.insertRace.Add(1)
		return winner, nil
	}
	s.stat.pageAlloc.Add(1)
	return candidate, nil
}

// leafLocked grows the tree until it covers index and returns the leaf node
// and slot for it. The caller must hold s.mu.
func (s *pageStore) leafLocked(index uint64) (*radixNode, uint64) {
	r := s.root.Load()
	if r == nil {
		r = &radixRoot{node: new(radixNode), height: 1}
		s.root.Store(r)
	}
	for !r.covers(index) {
		top := new(radixNode)
		top.store(0, unsafe.Pointer(r.node))
		r = &radixRoot{node: top, height: r.height + 1}
		s.root.Store(r)
	}
	node := r.node
	for h := r.height; h > 1; h-- {
		slot := (index >> (radixShift * (h - 1))) & radixMask
		next := (*radixNode)(node.load(slot))
		if next == nil {
			next = new(radixNode)
			node.store(slot, unsafe.Pointer(next))
		}
		node = next
	}
	return node, index & radixMask
}

// gangLookup fills dst with published pages of index >= pos in index order
// and returns how many it found.
func (s *pageStore) gangLookup(pos uint64, dst []*page) int {
	r := s.root.Load()
	if r == nil || !r.covers(pos) || len(dst) == 0 {
		return 0
	}
	var n int
	gangWalk(r.node, r.height, 0, pos, dst, &n)
	return n
}

func gangWalk(node *radixNode, height uint, base, pos uint64, dst []*page, n *int) {
	shift := radixShift * (height - 1)
	for i := uint64(0); i < radixSlots && *n < len(dst); i++ {
		start := base + i<<shift
		if start+(uint64(1)<<shift)-1 < pos {
			continue
		}
		ptr := node.load(i)
		if ptr == nil {
			continue
		}
		if height == 1 {
			dst[*n] = (*page)(ptr)
			*n++
		} else {
			gangWalk((*radixNode)(ptr), height-1, start, pos, dst, n)
		}
	}
}

// rangePages calls fn for every published page in index order until fn returns false.
func (s *pageStore) rangePages(fn func(p *page) bool) {
	var (
		batch [freeBatch]*page
		pos   uint64
	)
	for {
		n := s.gangLookup(pos, batch[:])
		for i := 0; i < n; i++ {
			if !fn(batch[i]) {
				return
			}
		}
		if n < freeBatch {
			return
		}
		pos = batch[n-1].index + 1
		if pos == 0 {
			return
		}
	}
}

func (s *pageStore) pageCount() uint64 {
	return s.count.Load()
}

// removeAll frees every page. It must only run when nothing else uses the store.
func (s *pageStore) removeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		batch [freeBatch]*page
		pos   uint64
		n     int
	)
	for {
		n = s.gangLookup(pos, batch[:])
		for i := 0; i < n; i++ {
			p := batch[i]
			if p.index < pos {
				panic(fmt.Sprintf("page store gang lookup went back : %d < %d", p.index, pos))
			}
			pos = p.index
			leaf, slot := s.leafLocked(pos)
			leaf.store(slot, nil)
			p.buf = nil
			s.count.Add(^uint64(0))
		}
		pos++
		// large stores take a while to tear down
		runtime.Gosched()
		if n != freeBatch || pos == 0 {
			break
		}
	}
	s.root.Store(nil)
	return s.arena.release()
}
