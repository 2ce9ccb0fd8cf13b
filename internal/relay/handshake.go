package relay

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// Credentials identify this service to the upstream provider. Loaded once,
// read-only for the process lifetime, shared safely across sessions.
type Credentials struct {
	AppID  string
	APIKey string
}

// SignedHandshake is a time-bound, signed connection URL for the upstream
// provider. Built fresh per session; the timestamp is single-use and the
// upstream rejects reuse after expiry.
type SignedHandshake struct {
	URL      string
	IssuedAt int64
}

// BuildHandshake produces the signed connection URL for the given endpoint.
//
// The upstream protocol signs a fixed-length intermediate value rather than
// the raw identity+timestamp: the hex MD5 digest of appid+ts is taken first,
// then an HMAC-SHA1 over that digest keyed with the api key, base64-encoded
// into the signa query parameter. This must match the provider bit-for-bit.
func BuildHandshake(endpoint string, creds Credentials, now time.Time) SignedHandshake {
	ts := now.Unix()
	return SignedHandshake{
		URL:      fmt.Sprintf("%s?appid=%s&ts=%d&signa=%s", endpoint, creds.AppID, ts, url.QueryEscape(sign(creds, ts))),
		IssuedAt: ts,
	}
}

func sign(creds Credentials, ts int64) string {
	digest := md5.Sum([]byte(fmt.Sprintf("%s%d", creds.AppID, ts)))
	base := hex.EncodeToString(digest[:])

	mac := hmac.New(sha1.New, []byte(creds.APIKey))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
