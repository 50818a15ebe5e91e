package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// SchedulerMaxSkew bounds how far a scheduler timestamp may drift from now.
const SchedulerMaxSkew = 5 * time.Minute

var (
	ErrSignatureMissing = errors.New("crypto: scheduler signature missing")
	ErrSignatureExpired = errors.New("crypto: scheduler timestamp outside allowed window")
	ErrSignatureInvalid = errors.New("crypto: scheduler signature mismatch")
)

// SchedulerSignature returns base64(HMAC-SHA256(secret, ts+method+path)).
func SchedulerSignature(secret, ts, method, path string) string {
	return hmacSHA256Base64([]byte(secret), ts+method+path)
}

// SignSchedulerRequest returns the timestamp and signature headers a trusted
// scheduler sends for the given request at time at.
func SignSchedulerRequest(secret, method, path string, at time.Time) (ts, sig string) {
	ts = strconv.FormatInt(at.Unix(), 10)
	return ts, SchedulerSignature(secret, ts, method, path)
}

// VerifyScheduler checks a scheduler signature against secret and requires
// ts, in Unix seconds, to be within SchedulerMaxSkew of now.
func VerifyScheduler(secret, ts, sig, method, path string, now time.Time) error {
	if secret == "" || ts == "" || sig == "" {
		return ErrSignatureMissing
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > SchedulerMaxSkew {
		return ErrSignatureExpired
	}

	want := SchedulerSignature(secret, ts, method, path)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
