// Package cache keeps fetched feed responses in memory so unchanged feeds are
// answered locally or with a conditional request.
package cache

import (
	"net/http"

	"github.com/gregjones/httpcache"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Responses is a bounded [httpcache.Cache]: once full, the least recently used
// response is evicted.
type Responses struct {
	entries *lru.Cache[string, []byte]
}

var _ httpcache.Cache = (*Responses)(nil)

func New(size int) (*Responses, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}

	return &Responses{entries: entries}, nil
}

func (r *Responses) Get(key string) ([]byte, bool) {
	return r.entries.Get(key)
}

func (r *Responses) Set(key string, resp []byte) {
	r.entries.Add(key, resp)
}

func (r *Responses) Delete(key string) {
	r.entries.Remove(key)
}

// Len returns the number of stored responses.
func (r *Responses) Len() int {
	return r.entries.Len()
}

// Transport returns a round tripper answering from r where the response headers
// allow it and revalidating stale entries with their ETag or Last-Modified.
// A request carrying "Cache-Control: no-cache" always goes to the network.
func (r *Responses) Transport(next http.RoundTripper) *httpcache.Transport {
	t := httpcache.NewTransport(r)
	t.Transport = next
	t.MarkCachedResponses = true

	return t
}

// FromCache reports whether resp was served from the cache, either because it was
// still fresh or because the server answered 304 Not Modified.
func FromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
