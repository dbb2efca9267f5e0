// Package etag fingerprints response payloads and decides between a full
// response and 304 Not Modified for polling clients.
//
// A fingerprint is the SHA-256 of a canonical JSON encoding of the payload:
// object keys sorted, array order kept, declared volatile top-level keys
// removed. Fingerprints are never stored; every request recomputes them from
// a fresh read.
package etag

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"projecthub/pkg/apperr"
)

// tokenBytes 截取的摘要长度，32 个十六进制字符
const tokenBytes = 16

// Token 带引号的实体标签，例如 "9f86d081884c7d659a2feaa0c55ad015"
type Token string

func (t Token) String() string {
	return string(t)
}

// Compute returns the fingerprint of payload after dropping the volatile
// top-level keys. A payload that cannot be encoded as JSON is a programming
// error and comes back as an INTERNAL_ERROR.
func Compute(payload any, volatile ...string) (Token, error) {
	canonical, err := Canonicalize(payload, volatile...)
	if err != nil {
		return "", err
	}
	return hashCanonical(canonical), nil
}

// Canonicalize encodes payload into its canonical byte form.
func Canonicalize(payload any, volatile ...string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Internal("fingerprint: payload is not serializable", err)
	}

	// 解码成通用树：map 在 Marshal 时按 key 排序，数组保持原顺序
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, apperr.Internal("fingerprint: failed to decode payload", err)
	}

	if obj, ok := tree.(map[string]any); ok && len(volatile) > 0 {
		for _, key := range volatile {
			delete(obj, key)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, apperr.Internal("fingerprint: failed to encode canonical form", err)
	}
	// Encoder 追加的换行不属于规范形式
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func hashCanonical(canonical []byte) Token {
	sum := sha256.Sum256(canonical)
	return Token(fmt.Sprintf("%q", hex.EncodeToString(sum[:tokenBytes])))
}

// MustCompute 仅用于测试和常量初始化
func MustCompute(payload any, volatile ...string) Token {
	t, err := Compute(payload, volatile...)
	if err != nil {
		panic(err)
	}
	return t
}
