package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins a namespace and an id, e.g. "trades:2024-03-01".
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

// GenerateKeyWithParams joins a namespace with formatted params, e.g. "models:sequence:7".
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
