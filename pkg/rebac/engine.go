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

// Package rebac implements the ReBAC Engine (C5): namespace configs, tuple
// storage, userset-rewrite traversal, L1/L2 caches, consistency tokens, and
// graph-limit DoS protection.
package rebac

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/bluele/gcache"
	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"nexus/pkg/lock"
)

// tokenSigningInfo is the HKDF "info" parameter binding a derived key to its
// single purpose, so the same master secret can be reused for other derived
// keys elsewhere without cross-purpose key reuse.
const tokenSigningInfo = "nexus/rebac/consistency-token/v1"

// deriveSigningKey runs hmacKey through HKDF-SHA256 to produce the key
// actually used to sign consistency tokens, rather than using the master
// secret directly.
func deriveSigningKey(hmacKey []byte) ([]byte, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, hmacKey, nil, []byte(tokenSigningInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "rebac: could not derive token signing key")
	}
	return key, nil
}

// Engine is the ReBAC engine (C5).
type Engine struct {
	db   *sql.DB
	cfg  *config
	rev  *lock.Service
	hmac []byte

	l1 *ristretto.Cache
	l2 gcache.Cache // optional shared L2, may be nil

	nsMu sync.RWMutex
	ns   map[string]NamespaceConfig // zone/tenant -> namespace config
}

// New builds an Engine. hmacKey is run through HKDF to derive the key that
// actually signs consistency tokens; in production hmacKey itself should
// come from a secrets manager, not be hardcoded.
func New(m map[string]interface{}, db *sql.DB, rev *lock.Service, hmacKey []byte) (*Engine, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	if err := migrateTupleStore(db); err != nil {
		return nil, errors.Wrap(err, "rebac: could not migrate tuple schema")
	}
	signingKey, err := deriveSigningKey(hmacKey)
	if err != nil {
		return nil, err
	}

	e := &Engine{db: db, cfg: c, rev: rev, hmac: signingKey, ns: map[string]NamespaceConfig{}}

	if c.EnableL1Cache {
		l1, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e6,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Wrap(err, "rebac: could not create L1 cache")
		}
		e.l1 = l1
	}
	if c.EnableL2Cache {
		e.l2 = gcache.New(100000).LRU().Build()
	}
	return e, nil
}

// SetNamespaceConfig registers the namespace config for zoneID, evicting any
// cached decisions computed under the old config.
func (e *Engine) SetNamespaceConfig(zoneID string, cfg NamespaceConfig) {
	e.nsMu.Lock()
	defer e.nsMu.Unlock()
	e.ns[zoneID] = cfg
}

func (e *Engine) namespaceConfig(zoneID string) (NamespaceConfig, bool) {
	e.nsMu.RLock()
	defer e.nsMu.RUnlock()
	cfg, ok := e.ns[zoneID]
	return cfg, ok
}

// revisionBucket returns the tenant's current revision, used as part of
// every cache key so a tuple write invalidates stale entries implicitly
// rather than through explicit purge.
func (e *Engine) revisionBucket(tenantID string) (int64, error) {
	return e.rev.CurrentRevision(tenantID)
}

func (e *Engine) bumpAndInvalidate(tenantID string) (int64, error) {
	return e.rev.RevisionBump(tenantID)
}

func cacheKey(req CheckRequest, revisionBucket int64) string {
	return fmt.Sprintf("%s:%s:%s|%s|%s:%s|%s|%d",
		req.Subject.Type, req.Subject.ID, req.Subject.Relation,
		req.Permission,
		req.Object.Type, req.Object.ID,
		req.TenantID, revisionBucket)
}

func (e *Engine) cacheGet(key string) (bool, bool) {
	if e.l1 != nil {
		if v, ok := e.l1.Get(key); ok {
			return v.(bool), true
		}
	}
	if e.l2 != nil {
		if v, err := e.l2.Get(key); err == nil {
			return v.(bool), true
		}
	}
	return false, false
}

func (e *Engine) cacheSet(key string, allowed bool) {
	if e.l1 != nil {
		e.l1.Set(key, allowed, 1)
	}
	if e.l2 != nil {
		_ = e.l2.Set(key, allowed)
	}
}

// signToken produces the opaque consistency_token for (tenantID, revision):
// an encoded (zone_id, revision) plus a server-side MAC.
func (e *Engine) signToken(tenantID string, revision int64) string {
	payload := fmt.Sprintf("%s:%d", tenantID, revision)
	mac := hmac.New(sha256.New, e.hmac)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// VerifyToken decodes a consistency token, returning the carried revision.
// Servers must refuse tokens with an invalid MAC.
func (e *Engine) VerifyToken(ctx context.Context, token string) (tenantID string, revision int64, err error) {
	var payloadB64, sigB64 string
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			payloadB64, sigB64 = token[:i], token[i+1:]
			break
		}
	}
	if payloadB64 == "" || sigB64 == "" {
		return "", 0, errors.New("rebac: malformed consistency token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", 0, errors.New("rebac: malformed consistency token")
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", 0, errors.New("rebac: malformed consistency token")
	}
	mac := hmac.New(sha256.New, e.hmac)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return "", 0, errors.New("rebac: invalid consistency token MAC")
	}
	var rev int64
	var tid string
	for i := len(payload) - 1; i >= 0; i-- {
		if payload[i] == ':' {
			tid = string(payload[:i])
			fmt.Sscanf(string(payload[i+1:]), "%d", &rev)
			break
		}
	}
	return tid, rev, nil
}
