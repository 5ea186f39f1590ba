// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package lock implements the Lock & Revision Service (C3): per-path
// bounded, TTL'd holder sets and a per-zone monotonic revision counter,
// backed by a go-micro key-value store the way
// pkg/storage/favorite/micro selects its backing store.
package lock

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-micro/plugins/v4/store/memory"
	"github.com/go-micro/plugins/v4/store/redis"
	"go-micro.dev/v4/store"
)

// Holder is one entry in a path's holder set.
type Holder struct {
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type holderSet struct {
	Holders []Holder `json:"holders"`
}

// Service is the lock & revision service (C3).
type Service struct {
	store store.Store

	// mu guards read-modify-write cycles against the backing store so
	// acquire/extend/release are effectively atomic even though the
	// store.Store interface itself has no compare-and-swap primitive.
	mu sync.Mutex
}

const locksTable = "locks"
const revisionsTable = "revisions"

// New builds a Service from a config map, following the
// map[string]interface{} convention used throughout this module.
func New(m map[string]interface{}) (*Service, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}

	opts := []store.Option{store.Database("nexus_locks")}
	if len(c.Nodes) > 0 {
		opts = append(opts, store.Nodes(c.Nodes...))
	}

	var s store.Store
	switch c.Plugin {
	case "redis":
		s = redis.NewStore(opts...)
	default:
		s = memory.NewStore(opts...)
	}
	return &Service{store: s}, nil
}

func (s *Service) readHolders(path string) (*holderSet, error) {
	recs, err := s.store.Read(path, store.ReadFrom(locksTable, ""))
	if err != nil {
		if err == store.ErrNotFound {
			return &holderSet{}, nil
		}
		return nil, err
	}
	if len(recs) == 0 {
		return &holderSet{}, nil
	}
	var hs holderSet
	if err := json.Unmarshal(recs[0].Value, &hs); err != nil {
		return nil, err
	}
	return pruneExpired(&hs), nil
}

func pruneExpired(hs *holderSet) *holderSet {
	now := time.Now()
	live := hs.Holders[:0]
	for _, h := range hs.Holders {
		if h.ExpiresAt.After(now) {
			live = append(live, h)
		}
	}
	hs.Holders = live
	return hs
}

func (s *Service) writeHolders(path string, hs *holderSet) error {
	raw, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	return s.store.Write(&store.Record{Key: path, Value: raw}, store.WriteTo(locksTable, ""))
}

// Acquire grants holderID a slot in path's holder set iff the current
// (unexpired) holder count is below maxHolders.
func (s *Service) Acquire(path, holderID string, maxHolders int, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, err := s.readHolders(path)
	if err != nil {
		return false, err
	}
	for i, h := range hs.Holders {
		if h.HolderID == holderID {
			hs.Holders[i].ExpiresAt = time.Now().Add(ttl)
			return true, s.writeHolders(path, hs)
		}
	}
	if len(hs.Holders) >= maxHolders {
		return false, nil
	}
	hs.Holders = append(hs.Holders, Holder{HolderID: holderID, ExpiresAt: time.Now().Add(ttl)})
	return true, s.writeHolders(path, hs)
}

// Extend renews holderID's TTL iff it is currently present and unexpired.
func (s *Service) Extend(path, holderID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, err := s.readHolders(path)
	if err != nil {
		return false, err
	}
	for i, h := range hs.Holders {
		if h.HolderID == holderID {
			hs.Holders[i].ExpiresAt = time.Now().Add(ttl)
			return true, s.writeHolders(path, hs)
		}
	}
	return false, nil
}

// Release drops holderID from path's holder set iff it was present.
func (s *Service) Release(path, holderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, err := s.readHolders(path)
	if err != nil {
		return false, err
	}
	for i, h := range hs.Holders {
		if h.HolderID == holderID {
			hs.Holders = append(hs.Holders[:i], hs.Holders[i+1:]...)
			return true, s.writeHolders(path, hs)
		}
	}
	return false, nil
}

// ForceRelease unconditionally drops all holders of path (admin operation).
func (s *Service) ForceRelease(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeHolders(path, &holderSet{})
}

// GetInfo returns the current, unexpired holder set for path.
func (s *Service) GetInfo(path string) ([]Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, err := s.readHolders(path)
	if err != nil {
		return nil, err
	}
	return hs.Holders, nil
}

// RevisionBump returns a strictly increasing integer for zoneID. Concurrent
// callers never observe duplicate values.
func (s *Service) RevisionBump(zoneID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("zone:%s", zoneID)
	var rev int64
	recs, err := s.store.Read(key, store.ReadFrom(revisionsTable, ""))
	if err == nil && len(recs) > 0 {
		if err := json.Unmarshal(recs[0].Value, &rev); err != nil {
			return 0, err
		}
	} else if err != nil && err != store.ErrNotFound {
		return 0, err
	}
	rev++
	raw, err := json.Marshal(rev)
	if err != nil {
		return 0, err
	}
	if err := s.store.Write(&store.Record{Key: key, Value: raw}, store.WriteTo(revisionsTable, "")); err != nil {
		return 0, err
	}
	return rev, nil
}

// CurrentRevision returns the latest bumped revision for zoneID without
// incrementing it (0 if none has been bumped yet).
func (s *Service) CurrentRevision(zoneID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("zone:%s", zoneID)
	recs, err := s.store.Read(key, store.ReadFrom(revisionsTable, ""))
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	var rev int64
	if err := json.Unmarshal(recs[0].Value, &rev); err != nil {
		return 0, err
	}
	return rev, nil
}
