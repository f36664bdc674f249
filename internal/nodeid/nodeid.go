// Package nodeid encodes global object identifiers as base64 of
// "<typename>:<serialized pk>".
package nodeid

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode builds a global ID from a GraphQL type name and a primary key value.
func Encode(typename string, pk any) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%v", typename, pk)))
}

// Decode splits a global ID into its type name and serialized primary key.
func Decode(raw string) (typename, pk string, err error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid id: %w", err)
	}
	typename, pk, ok := strings.Cut(string(data), ":")
	if !ok || typename == "" || pk == "" {
		return "", "", fmt.Errorf("invalid id format")
	}
	return typename, pk, nil
}
