package memory

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/google/btree"
)

// iterator walks a frozen tree clone inside [lower, upper).
// The btree has no cursors, so every step is a fresh O(log n) descent from the last key.
type iterator struct {
	tree   *btree.BTreeG[item]
	lower  []byte
	upper  []byte
	cur    item
	valid  bool
	closed bool
}

var _ engine.Iterator = (*iterator)(nil)

func (it *iterator) inBounds(key []byte) bool {
	if it.lower != nil && bytes.Compare(key, it.lower) < 0 {
		return false
	}
	if it.upper != nil && bytes.Compare(key, it.upper) >= 0 {
		return false
	}
	return true
}

// firstFrom positions on the first key >= key (strict: > key)
func (it *iterator) firstFrom(key []byte, strict bool) bool {
	it.valid = false
	if it.closed {
		return false
	}
	if it.lower != nil && bytes.Compare(key, it.lower) < 0 {
		key, strict = it.lower, false
	}
	it.tree.AscendGreaterOrEqual(item{key: key}, func(i item) bool {
		if strict && bytes.Equal(i.key, key) {
			return true
		}
		if it.inBounds(i.key) {
			it.cur, it.valid = i, true
		}
		return false
	})
	return it.valid
}

// lastBefore positions on the last key < key, a nil key means the end of the tree
func (it *iterator) lastBefore(key []byte) bool {
	it.valid = false
	if it.closed {
		return false
	}
	if it.upper != nil && (key == nil || bytes.Compare(key, it.upper) > 0) {
		key = it.upper
	}
	visit := func(i item) bool {
		if key != nil && bytes.Compare(i.key, key) >= 0 {
			return true
		}
		if it.inBounds(i.key) {
			it.cur, it.valid = i, true
		}
		return false
	}
	if key == nil {
		it.tree.Descend(visit)
	} else {
		it.tree.DescendLessOrEqual(item{key: key}, visit)
	}
	return it.valid
}

func (it *iterator) First() bool {
	if it.lower == nil {
		it.valid = false
		if it.closed {
			return false
		}
		it.tree.Ascend(func(i item) bool {
			if it.inBounds(i.key) {
				it.cur, it.valid = i, true
			}
			return false
		})
		return it.valid
	}
	return it.firstFrom(it.lower, false)
}

func (it *iterator) Last() bool { return it.lastBefore(nil) }

func (it *iterator) SeekGE(key []byte) bool { return it.firstFrom(key, false) }

func (it *iterator) SeekLT(key []byte) bool { return it.lastBefore(key) }

func (it *iterator) Next() bool {
	if !it.valid {
		return false
	}
	return it.firstFrom(it.cur.key, true)
}

func (it *iterator) Prev() bool {
	if !it.valid {
		return false
	}
	return it.lastBefore(it.cur.key)
}

func (it *iterator) Valid() bool { return it.valid }

func (it *iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.cur.key
}

func (it *iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.cur.value
}

func (it *iterator) Error() error { return nil }

func (it *iterator) Close() error {
	it.closed, it.valid = true, false
	it.tree = nil
	return nil
}
