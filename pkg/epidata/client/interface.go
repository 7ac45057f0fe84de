package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/ty"
)

// Gateway is the long-lived link to one engine. *bridge.Conn and the HTTP
// gateway of the remote transport implement it.
type Gateway interface {
	Invoke(ctx context.Context, inv bridge.Invocation) ([]ty.MI, error)
	Close() error
}

// ErrUnknownKind is returned for a kind outside Kinds.
var ErrUnknownKind = errors.New("unknown query kind")

// Kind selects the view a measurement query runs against.
type Kind string

const (
	KindOriginal Kind = "original"
	KindCleansed Kind = "cleansed"
	KindSummary  Kind = "summary"
)

// Kinds lists every query kind, in display order.
var Kinds = []Kind{KindOriginal, KindCleansed, KindSummary}

// Method returns the engine operation implementing the kind.
func (k Kind) Method() (string, error) {
	switch k {
	case KindOriginal, "":
		return bridge.MethodQuery, nil
	case KindCleansed:
		return bridge.MethodQueryCleansed, nil
	case KindSummary:
		return bridge.MethodQuerySummary, nil
	}
	return "", fmt.Errorf("%w %q (expected original, cleansed or summary)", ErrUnknownKind, string(k))
}

// ParseKind accepts a kind name, case-insensitively. Empty is original.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindOriginal, nil
	}
	if _, err := k.Method(); err != nil {
		return "", err
	}
	return k, nil
}
