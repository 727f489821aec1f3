package assertion

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// canonicalOrder lists claims that are serialized first, in this order, when present.
// The server side reads assertions in this layout.
var canonicalOrder = []string{
	"iss",
	"aud",
	"exp",
	"scope",
	"prn",
	"version",
	"refresh_token",
	"request_domain",

	"basic_auth.username",
	"basic_auth.password",

	"device_id",
}

// orderedClaims serializes canonical claims first and every other claim after them in sorted order.
type orderedClaims struct {
	jwt.MapClaims
}

// Compile-time check that orderedClaims implements jwt.Claims.
var _ jwt.Claims = orderedClaims{}

func (c orderedClaims) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(c.MapClaims))
	for _, key := range canonicalOrder {
		if !isEmpty(c.MapClaims[key]) {
			keys = append(keys, key)
		}
	}
	rest := make([]string, 0, len(c.MapClaims))
	for key := range c.MapClaims {
		if !slices.Contains(keys, key) {
			rest = append(rest, key)
		}
	}
	slices.Sort(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.MapClaims[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
