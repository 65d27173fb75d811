package pebble

import (
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/cockroachdb/pebble"
)

// iterator adapts a pebble iterator to engine.Iterator.
// Key and Value point into pebble's buffers and follow its validity rules.
type iterator struct {
	iter *pebble.Iterator
}

var _ engine.Iterator = (*iterator)(nil)

func (it *iterator) First() bool            { return it.iter.First() }
func (it *iterator) Last() bool             { return it.iter.Last() }
func (it *iterator) SeekGE(key []byte) bool { return it.iter.SeekGE(key) }
func (it *iterator) SeekLT(key []byte) bool { return it.iter.SeekLT(key) }
func (it *iterator) Next() bool             { return it.iter.Next() }
func (it *iterator) Prev() bool             { return it.iter.Prev() }
func (it *iterator) Valid() bool            { return it.iter.Valid() }
func (it *iterator) Key() []byte            { return it.iter.Key() }
func (it *iterator) Error() error           { return it.iter.Error() }

func (it *iterator) Value() []byte {
	value, err := it.iter.ValueAndErr()
	if err != nil {
		return nil
	}
	return value
}

func (it *iterator) Close() error {
	if it.iter == nil {
		return nil
	}
	err := it.iter.Close()
	it.iter = nil
	return err
}
