package memory

import (
	"sync"

	"github.com/lamassuiot/certify/pkg/depot"
)

// syncMap is a typed view over sync.Map.
type syncMap struct {
	m sync.Map
}

func (s *syncMap) LoadOrStore(key string, rec *depot.Record) (*depot.Record, bool) {
	v, loaded := s.m.LoadOrStore(key, rec)
	return v.(*depot.Record), loaded
}

func (s *syncMap) Load(key string) (*depot.Record, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*depot.Record), true
}

func (s *syncMap) Range(fn func(string, *depot.Record) bool) {
	s.m.Range(func(k, v interface{}) bool {
		return fn(k.(string), v.(*depot.Record))
	})
}
