// Package hashtable implements a chained hash table keyed by small
// integers or ustr.Ustr values. The supplemental page table uses one
// of these per address space, keyed by page-aligned user address.
package hashtable

import (
	"fmt"
	"hash/fnv"
	"sync"

	"corekern/ustr"
)

type elem_t struct {
	key     interface{}
	value   interface{}
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.RWMutex
	first *elem_t
}

func (b *bucket_t) len() int {
	b.RLock()
	defer b.RUnlock()
	l := 0
	for e := b.first; e != nil; e = e.next {
		l++
	}
	return l
}

func (b *bucket_t) elems() []Pair_t {
	b.RLock()
	defer b.RUnlock()
	p := make([]Pair_t, 0)
	for e := b.first; e != nil; e = e.next {
		p = append(p, Pair_t{Key: e.key, Value: e.value})
	}
	return p
}

// Hashtable_t represents a basic hash table mapping keys to values,
// protected internally by per-bucket locks.
type Hashtable_t struct {
	table    []*bucket_t
	maxchain int
}

// MkHash allocates a new Hashtable_t with the given bucket count.
func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{}
	ht.table = make([]*bucket_t, size)
	ht.maxchain = 1
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

// Size returns the total number of elements stored in the table.
func (ht *Hashtable_t) Size() int {
	n := 0
	for _, b := range ht.table {
		n += b.len()
	}
	return n
}

// Pair_t represents a key/value tuple returned by Elems.
type Pair_t struct {
	Key   interface{}
	Value interface{}
}

// Elems returns all key/value pairs currently stored.
func (ht *Hashtable_t) Elems() []Pair_t {
	p := make([]Pair_t, 0)
	for _, b := range ht.table {
		p = append(p, b.elems()...)
	}
	return p
}

// Get looks up the provided key and returns its value.
func (ht *Hashtable_t) Get(key interface{}) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.RLock()
	defer b.RUnlock()
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, true
		}
	}
	return nil, false
}

// Set inserts a key/value pair, returning the prior value and false
// if the key already existed.
func (ht *Hashtable_t) Set(key interface{}, value interface{}) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, false
		}
		last = e
	}
	n := &elem_t{key: key, value: value, keyHash: kh}
	if last == nil {
		b.first = n
	} else {
		last.next = n
	}
	return value, true
}

// Del removes a key from the table. It panics if the key is absent.
func (ht *Hashtable_t) Del(key interface{}) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			if last == nil {
				b.first = e.next
			} else {
				last.next = e.next
			}
			return
		}
		last = e
	}
	panic("del of non-existing key")
}

// Iter applies f to each key/value pair until f returns true.
func (ht *Hashtable_t) Iter(f func(interface{}, interface{}) bool) bool {
	for _, b := range ht.table {
		for _, p := range b.elems() {
			if f(p.Key, p.Value) {
				return true
			}
		}
	}
	return false
}

func (ht *Hashtable_t) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func hashUstr(s ustr.Ustr) uint32 {
	h := fnv.New32a()
	h.Write(s)
	return h.Sum32()
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func khash(key interface{}) uint32 {
	return uint32(2654435761) * hash(key)
}

func hash(key interface{}) uint32 {
	switch x := key.(type) {
	case ustr.Ustr:
		return hashUstr(x)
	case int:
		return uint32(x)
	case int32:
		return uint32(x)
	case string:
		return hashString(x)
	}
	panic(fmt.Errorf("unsupported key type %T", key))
}

func equal(key1 interface{}, key2 interface{}) bool {
	switch x := key1.(type) {
	case ustr.Ustr:
		return x.Eq(key2.(ustr.Ustr))
	case int32:
		return x == key2.(int32)
	case int:
		return x == key2.(int)
	case string:
		return x == key2.(string)
	}
	panic(fmt.Errorf("unsupported key type %T", key1))
}
