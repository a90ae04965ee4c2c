package syncconfig

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/marcus/ct/internal/remote"
)

// BackendConfig is the portable part of the configuration: what a share
// link carries and what `backend set` writes.
type BackendConfig struct {
	Backend  remote.Kind     `json:"backend"`
	Sheets   *SheetsConfig   `json:"sheets,omitempty"`
	Realtime *RealtimeConfig `json:"realtime,omitempty"`
}

func (b BackendConfig) applyTo(cfg *Config) {
	cfg.Backend = string(b.Backend)
	if b.Sheets != nil {
		if b.Sheets.URL != "" {
			cfg.Sheets.URL = b.Sheets.URL
		}
		if b.Sheets.SheetName != "" {
			cfg.Sheets.SheetName = b.Sheets.SheetName
		}
	}
	if b.Realtime != nil {
		if b.Realtime.URL != "" {
			cfg.Realtime.URL = b.Realtime.URL
		}
		if b.Realtime.UserID != "" {
			cfg.Realtime.UserID = b.Realtime.UserID
		}
		if b.Realtime.Token != "" {
			cfg.Realtime.Token = b.Realtime.Token
		}
	}
}

// CurrentBackend returns the effective backend selection, env included.
func CurrentBackend() BackendConfig {
	rc := RemoteConfig()
	b := BackendConfig{Backend: rc.Kind}
	switch rc.Kind {
	case remote.KindPolling:
		b.Sheets = &SheetsConfig{URL: rc.Sheets.URL, SheetName: rc.Sheets.SheetName}
	case remote.KindRealtime:
		b.Realtime = &RealtimeConfig{URL: rc.Realtime.URL, UserID: rc.Realtime.UserID}
	}
	return b
}

// ErrNoShareConfig is returned for a link without a config or userId fragment.
var ErrNoShareConfig = errors.New("link carries no configuration")

// EncodeShareLink embeds b in base's fragment as #config=<base64 JSON>.
// Tokens are never shared.
func EncodeShareLink(base string, b BackendConfig) (string, error) {
	if b.Realtime != nil {
		rt := *b.Realtime
		rt.Token = ""
		b.Realtime = &rt
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return stripFragment(base) + "#config=" + base64.StdEncoding.EncodeToString(data), nil
}

// UserShareLink returns base#userId=<uid>, which joins another device to the
// same realtime collection.
func UserShareLink(base, userID string) string {
	return stripFragment(base) + "#userId=" + url.PathEscape(userID)
}

// ParseShareLink decodes a link produced by EncodeShareLink or
// UserShareLink. A bare fragment ("config=...") is accepted as well.
func ParseShareLink(link string) (BackendConfig, error) {
	frag := link
	if i := strings.IndexByte(link, '#'); i >= 0 {
		frag = link[i+1:]
	}
	// query parsing would turn '+' in standard base64 into a space
	params := make(map[string]string)
	for _, part := range strings.Split(frag, "&") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			params[k] = v
		}
	}

	if enc := params["config"]; enc != "" {
		data, err := decodeBase64(enc)
		if err != nil {
			return BackendConfig{}, fmt.Errorf("decode share link: %w", err)
		}
		var b BackendConfig
		if err := json.Unmarshal(data, &b); err != nil {
			return BackendConfig{}, fmt.Errorf("decode share link: %w", err)
		}
		kind, err := remote.ParseKind(string(b.Backend))
		if err != nil {
			return BackendConfig{}, err
		}
		b.Backend = kind
		return b, nil
	}
	if uid := params["userId"]; uid != "" {
		uid, err := url.PathUnescape(uid)
		if err != nil {
			return BackendConfig{}, fmt.Errorf("decode share link: %w", err)
		}
		return BackendConfig{Backend: remote.KindRealtime, Realtime: &RealtimeConfig{UserID: uid}}, nil
	}
	return BackendConfig{}, ErrNoShareConfig
}

func decodeBase64(s string) ([]byte, error) {
	s, _ = url.PathUnescape(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func stripFragment(base string) string {
	if i := strings.IndexByte(base, '#'); i >= 0 {
		return base[:i]
	}
	return base
}
