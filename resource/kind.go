package resource

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnsupportedKind is returned for operation kinds outside of the Kind enum.
var ErrUnsupportedKind = errors.New("unsupported operation kind")

// Kind is the kind of an operation.
type Kind int

const (
	// KindQuery reads records with filter, sort and pagination.
	KindQuery Kind = iota + 1
	// KindCreate creates a record.
	KindCreate
	// KindUpdate updates a record resolved by identity.
	KindUpdate
	// KindDelete destroys a record resolved by identity.
	KindDelete
	// KindCustom runs a generic action.
	KindCustom
)

var kindNames = map[Kind]string{
	KindQuery:  "query",
	KindCreate: "create",
	KindUpdate: "update",
	KindDelete: "delete",
	KindCustom: "custom",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Valid returns true for known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind returns the Kind by its name, case insensitive.
// "read" and "destroy" are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "query", "read":
		return KindQuery, nil
	case "create":
		return KindCreate, nil
	case "update":
		return KindUpdate, nil
	case "delete", "destroy":
		return KindDelete, nil
	case "custom", "action":
		return KindCustom, nil
	}
	return 0, errors.WithMessagef(ErrUnsupportedKind, "%q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, errors.WithMessagef(ErrUnsupportedKind, "%d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
