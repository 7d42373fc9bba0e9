package vcs

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru"
)

// SettingsCodec decodes the settings blob embedded in inbound messages.
// Decoding failure is reported as absence; the coordinator treats it as a
// fatal error for the single message carrying the blob.
type SettingsCodec interface {
	Decode(data []byte) (RepositorySettings, bool)
}

// settingsCacheSize bounds the decode cache. Settings blobs repeat on every
// commit-family message of a tenant, so even a small cache absorbs almost
// all decoding work.
const settingsCacheSize = 512

// JSONSettingsCodec decodes JSON-encoded repository settings, caching
// decoded values by their raw blob.
type JSONSettingsCodec struct {
	cache *lru.Cache
}

// NewJSONSettingsCodec returns a codec with a warm LRU decode cache.
func NewJSONSettingsCodec() (*JSONSettingsCodec, error) {
	cache, err := lru.New(settingsCacheSize)
	if err != nil {
		return nil, err
	}

	return &JSONSettingsCodec{cache: cache}, nil
}

// Decode parses the blob into repository settings. The second return value
// is false if the blob is empty or malformed.
func (c *JSONSettingsCodec) Decode(data []byte) (RepositorySettings, bool) {
	if len(data) == 0 {
		return RepositorySettings{}, false
	}

	if cached, ok := c.cache.Get(string(data)); ok {
		return cached.(RepositorySettings), true
	}

	var settings RepositorySettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RepositorySettings{}, false
	}

	c.cache.Add(string(data), settings)

	return settings, true
}

// Encode serializes settings into the blob format understood by Decode.
func (c *JSONSettingsCodec) Encode(settings RepositorySettings) ([]byte, error) {
	return json.Marshal(settings)
}
