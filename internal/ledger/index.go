package ledger

import "slices"

// openIndex is an insertion-ordered set of open trade ids.
type openIndex struct {
	ids []uint64
}

func (ix *openIndex) add(tx *txn, id uint64) {
	ix.ids = append(ix.ids, id)
	tx.onRollback(func() {
		ix.ids = ix.ids[:len(ix.ids)-1]
	})
}

func (ix *openIndex) remove(tx *txn, id uint64) bool {
	pos := slices.Index(ix.ids, id)
	if pos < 0 {
		return false
	}
	ix.ids = slices.Delete(ix.ids, pos, pos+1)
	tx.onRollback(func() {
		ix.ids = slices.Insert(ix.ids, pos, id)
	})
	return true
}

func (ix *openIndex) contains(id uint64) bool {
	return slices.Contains(ix.ids, id)
}

func (ix *openIndex) len() int {
	if ix == nil {
		return 0
	}
	return len(ix.ids)
}

func (ix *openIndex) all() []uint64 {
	if ix == nil {
		return []uint64{}
	}
	return slices.Clone(ix.ids)
}

// page returns the page-th (1-based) run of size ids. Pages past the end,
// page 0 and size 0 yield an empty slice.
func (ix *openIndex) page(page, size uint64) []uint64 {
	n := uint64(ix.len())
	if page == 0 || size == 0 || page-1 > n/size {
		return []uint64{}
	}
	start := (page - 1) * size
	if start >= n {
		return []uint64{}
	}
	end := min(start+size, n)
	return slices.Clone(ix.ids[start:end])
}
