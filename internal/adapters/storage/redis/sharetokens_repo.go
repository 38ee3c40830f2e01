package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"family-health-access/internal/domain/sharetokens"

	goredis "github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix       = "sharetoken:"
	tokenSecretKeyPrefix = "sharetoken:secret:"
	tokenChildKeyPrefix  = "sharetoken:child:"

	// Las keys viven hasta el expiry del token más esta gracia, para que
	// revocados/expirados sigan apareciendo en listados y auditoría un tiempo.
	tokenTTLGrace = 30 * 24 * time.Hour
)

// ShareTokensRepo guarda cada token como hash: el blob JSON inmutable en
// `data` y el estado mutable (active, count, last_ms) en fields sueltos.
// Consume corre como script Lua: revalidación + incremento en un solo paso
// server-side, así dos consumidores compitiendo por el último uso no pueden
// ganar ambos.
type ShareTokensRepo struct {
	client *goredis.Client
}

func NewShareTokensRepo(client *goredis.Client) *ShareTokensRepo {
	return &ShareTokensRepo{client: client}
}

func tokenKey(id string) string {
	return tokenKeyPrefix + id
}

func tokenSecretKey(secret string) string {
	return tokenSecretKeyPrefix + secret
}

func tokenChildKey(childID string) string {
	return tokenChildKeyPrefix + childID
}

var consumeScript = goredis.NewScript(`
local active = redis.call('HGET', KEYS[1], 'active')
if not active then
  return {'notfound'}
end
if active ~= '1' then
  return {'revoked'}
end
local now = tonumber(ARGV[1])
if now >= tonumber(redis.call('HGET', KEYS[1], 'expires_ms')) then
  return {'expired'}
end
local max = redis.call('HGET', KEYS[1], 'max')
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if max ~= '' and count >= tonumber(max) then
  return {'exhausted'}
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'last_ms', ARGV[1])
return {'ok', redis.call('HGET', KEYS[1], 'data'), count}
`)

func (r *ShareTokensRepo) Create(ctx context.Context, t sharetokens.Token) error {
	if t.ID == "" || t.Secret == "" {
		return errors.New("token id and secret required")
	}

	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	maxField := ""
	if t.MaxAccessCount != nil {
		maxField = strconv.Itoa(*t.MaxAccessCount)
	}

	ttl := time.Until(t.ExpiresAt) + tokenTTLGrace

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		key := tokenKey(t.ID)
		pipe.HSet(ctx, key,
			"data", b,
			"active", boolField(t.IsActive),
			"expires_ms", t.ExpiresAt.UnixMilli(),
			"max", maxField,
			"count", t.AccessCount,
			"last_ms", "",
		)
		pipe.Expire(ctx, key, ttl)

		pipe.Set(ctx, tokenSecretKey(t.Secret), t.ID, ttl)

		childKey := tokenChildKey(t.ChildID)
		pipe.SAdd(ctx, childKey, t.ID)
		pipe.Expire(ctx, childKey, ttl)
		return nil
	})
	return err
}

func (r *ShareTokensRepo) GetByID(ctx context.Context, id string) (sharetokens.Token, error) {
	vals, err := r.client.HMGet(ctx, tokenKey(id), "data", "active", "count", "last_ms").Result()
	if err != nil {
		return sharetokens.Token{}, err
	}
	return composeToken(vals)
}

func (r *ShareTokensRepo) GetBySecret(ctx context.Context, secret string) (sharetokens.Token, error) {
	id, err := r.client.Get(ctx, tokenSecretKey(secret)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return sharetokens.Token{}, sharetokens.ErrNotFound
		}
		return sharetokens.Token{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *ShareTokensRepo) ListByChild(ctx context.Context, childID string) ([]sharetokens.Token, error) {
	ids, err := r.client.SMembers(ctx, tokenChildKey(childID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]sharetokens.Token, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sharetokens.ErrNotFound) {
				// El hash ya venció por TTL; el set todavía lo referencia.
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *ShareTokensRepo) Consume(ctx context.Context, id string, now time.Time) (sharetokens.Token, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{tokenKey(id)}, now.UnixMilli()).Result()
	if err != nil {
		return sharetokens.Token{}, err
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return sharetokens.Token{}, errors.New("unexpected consume reply")
	}

	status, _ := reply[0].(string)
	switch status {
	case "notfound":
		return sharetokens.Token{}, sharetokens.ErrNotFound
	case "revoked":
		return sharetokens.Token{}, sharetokens.ErrRevoked
	case "expired":
		return sharetokens.Token{}, sharetokens.ErrExpired
	case "exhausted":
		return sharetokens.Token{}, sharetokens.ErrExhausted
	case "ok":
		if len(reply) != 3 {
			return sharetokens.Token{}, errors.New("unexpected consume reply")
		}

		var t sharetokens.Token
		raw, _ := reply[1].(string)
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return sharetokens.Token{}, err
		}

		count, _ := reply[2].(int64)
		t.IsActive = true
		t.AccessCount = int(count)
		t.LastAccessAt = &now
		return t, nil
	default:
		return sharetokens.Token{}, errors.New("unexpected consume status " + status)
	}
}

func (r *ShareTokensRepo) Revoke(ctx context.Context, id string) error {
	exists, err := r.client.Exists(ctx, tokenKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return sharetokens.ErrNotFound
	}
	return r.client.HSet(ctx, tokenKey(id), "active", "0").Err()
}

// composeToken arma el Token desde el hash: blob inmutable + estado mutable.
func composeToken(vals []interface{}) (sharetokens.Token, error) {
	if len(vals) != 4 || vals[0] == nil {
		return sharetokens.Token{}, sharetokens.ErrNotFound
	}

	var t sharetokens.Token
	raw, _ := vals[0].(string)
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return sharetokens.Token{}, err
	}

	if active, ok := vals[1].(string); ok {
		t.IsActive = active == "1"
	}
	if countStr, ok := vals[2].(string); ok {
		if count, err := strconv.Atoi(countStr); err == nil {
			t.AccessCount = count
		}
	}
	if lastStr, ok := vals[3].(string); ok && lastStr != "" {
		if ms, err := strconv.ParseInt(lastStr, 10, 64); err == nil {
			last := time.UnixMilli(ms).UTC()
			t.LastAccessAt = &last
		}
	}

	return t, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
