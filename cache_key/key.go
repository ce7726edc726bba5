package cache_key

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/t2bot/image-loader/util"
)

// keyVersion is mixed into every key. Bump it when decoding or transform output changes so stale
// persisted entries stop matching.
const keyVersion = 1

// Key identifies one logical load request: a hex-encoded SHA-256 digest.
type Key string

func (k Key) String() string {
	return string(k)
}

// Shard is the fan-out directory used by on-disk storage.
func (k Key) Shard() string {
	if len(k) < 2 {
		return "__"
	}
	return string(k[0:2])
}

// Valid reports whether k looks like a derived key.
func (k Key) Valid() bool {
	if len(k) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil
}

type keyMaterial struct {
	Version    int      `json:"v"`
	Source     string   `json:"src"`
	Transforms []string `json:"tx"`
	Width      int      `json:"w"`
	Height     int      `json:"h"`
}

// Derive computes the key for a request. Width and height are in device-independent units and are
// converted with scale, so requests that produce the same physical pixels share a key.
func Derive(source string, transforms []string, width int, height int, scale float64) Key {
	if transforms == nil {
		transforms = []string{}
	}
	m := keyMaterial{
		Version:    keyVersion,
		Source:     NormalizeSource(source),
		Transforms: transforms,
		Width:      util.DpToPixels(float64(width), scale),
		Height:     util.DpToPixels(float64(height), scale),
	}
	b, err := util.EncodeCanonicalJson(m)
	if err != nil {
		// keyMaterial only holds strings and ints
		panic(err)
	}
	sum := sha256.Sum256(b)
	return Key(hex.EncodeToString(sum[:]))
}

// NormalizeSource maps equivalent spellings of a source to one canonical string.
func NormalizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}

	if strings.HasPrefix(source, "/") {
		return "file://" + filepath.ToSlash(filepath.Clean(source))
	}

	scheme, rest, ok := strings.Cut(source, ":")
	if !ok || scheme == "" {
		return source
	}
	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" && scheme != "file" {
		// Opaque payloads (blurhash, data, res) may legally contain '#' or '?'
		return scheme + ":" + rest
	}

	u, err := url.Parse(scheme + ":" + rest)
	if err != nil {
		return scheme + ":" + rest
	}

	if scheme == "file" {
		if u.Path != "" {
			u.Path = filepath.ToSlash(filepath.Clean(u.Path))
		}
	} else {
		host := strings.ToLower(u.Hostname())
		port := u.Port()
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			port = ""
		}
		if port != "" {
			host = host + ":" + port
		}
		u.Host = host
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawQuery = u.Query().Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
