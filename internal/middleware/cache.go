package middleware

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/binary"
    "encoding/hex"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/config"
)

// generationTTL bounds how long a caller's cache generation counter lives.
// It only has to outlive the cached entries themselves.
const generationTTL = 24 * time.Hour

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size < cw.limit {
        remain := cw.limit - cw.size
        switch {
        case cw.limit <= 0, int64(len(b)) <= remain:
            cw.buf.Write(b)
        default:
            cw.buf.Write(b[:remain])
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

func generationKey(cfg config.CacheConfig, uid string) string {
    return cfg.Prefix + ":gen:" + uid
}

// cacheKeyFrom scopes an entry to the caller, their current generation and
// a fingerprint of the Microsoft token, so two Microsoft accounts used under
// one session never see each other's lists.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, gen int64) string {
    r := c.Request()
    tok, _ := MSTokenFromContext(r.Context())

    h := sha256.New()
    h.Write([]byte(tok))
    h.Write([]byte{0})
    h.Write([]byte(r.URL.Path))
    if cfg.KeyStrategy != "route" {
        h.Write([]byte{0})
        h.Write([]byte(r.URL.RawQuery))
    }
    sum := h.Sum(nil)

    var genBuf [8]byte
    binary.BigEndian.PutUint64(genBuf[:], uint64(gen))
    return strings.Join([]string{cfg.Prefix, callerID(c), hex.EncodeToString(genBuf[:]), hex.EncodeToString(sum[:16])}, ":")
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, header, bs[8+hlen:], true
}

// NewTodoCache caches successful To Do reads in Redis and drops a caller's
// entries after any successful mutation by bumping their generation.  It
// must run after SessionAuth and RequireMSToken.
func NewTodoCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 30 * time.Second
    }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            ctx := c.Request().Context()
            uid := callerID(c)

            if c.Request().Method != http.MethodGet {
                if err := next(c); err != nil {
                    return err
                }
                if c.Response().Status < 300 {
                    pipe := rdb.TxPipeline()
                    pipe.Incr(ctx, generationKey(cfg, uid))
                    pipe.Expire(ctx, generationKey(cfg, uid), generationTTL)
                    if _, err := pipe.Exec(ctx); err != nil {
                        log.WithError(err).WithField("user_id", uid).Warn("cache: generation bump failed")
                    }
                }
                return nil
            }

            gen, err := rdb.Get(ctx, generationKey(cfg, uid)).Int64()
            if err != nil && !errors.Is(err, redis.Nil) {
                return next(c)
            }
            key := cacheKeyFrom(cfg, c, gen)

            if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if strings.EqualFold(k, echo.HeaderContentLength) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            // truncated bodies are never stored
            if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
                _ = rdb.Set(context.WithoutCancel(ctx), key, payload, ttl).Err()
            }
            return nil
        }
    }
}
