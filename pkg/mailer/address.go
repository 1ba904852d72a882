package mailer

import (
	"fmt"
	"maps"
	"net/mail"
	"slices"
	"strings"
)

// Address is an email address with an optional display name.
type Address struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// NewAddress returns an Address for the given email and optional name.
func NewAddress(address string, name ...string) Address {
	a := Address{Address: strings.TrimSpace(address)}
	if len(name) > 0 {
		a.Name = strings.TrimSpace(name[0])
	}
	return a
}

// ParseAddress parses "email" or "Name <email>".
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address{Address: parsed.Address, Name: parsed.Name}, nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Address == ""
}

// Validate checks that the address part is email-shaped.
func (a Address) Validate() error {
	if a.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if _, err := mail.ParseAddress(a.Address); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, a.Address, err)
	}
	return nil
}

// String formats the address per RFC 5322, omitting the angle brackets when there is no name.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Recipient is the closed set of address shapes accepted by the address setters.
type Recipient interface {
	address() (Address, error)
}

// Bare is a recipient given as a plain string, either "email" or "Name <email>".
type Bare string

func (b Bare) address() (Address, error) {
	return ParseAddress(string(b))
}

// Named is a recipient given as an explicit address and display name.
type Named struct {
	Address string
	Name    string
}

func (n Named) address() (Address, error) {
	a := NewAddress(n.Address, n.Name)
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

func (a Address) address() (Address, error) {
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// Normalize converts a recipient variant into an Address.
func Normalize(r Recipient) (Address, error) {
	if r == nil {
		return Address{}, fmt.Errorf("%w: nil recipient", ErrInvalidAddress)
	}
	return r.address()
}

// AddressesFrom flattens the dynamic address shapes callers tend to pass around:
// a single string, an Address, a Recipient, slices of those, a map of email to
// display name, or a map with "address"/"email" and "name" keys.
func AddressesFrom(v any) ([]Address, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return one(Bare(val))
	case Address:
		return one(val)
	case *Address:
		if val == nil {
			return nil, nil
		}
		return one(*val)
	case Recipient:
		return one(val)
	case []string:
		out := make([]Address, 0, len(val))
		for _, s := range val {
			a, err := Normalize(Bare(s))
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	case []Address:
		out := make([]Address, 0, len(val))
		for _, a := range val {
			if err := a.Validate(); err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	case []Recipient:
		out := make([]Address, 0, len(val))
		for _, r := range val {
			a, err := Normalize(r)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	case []any:
		out := make([]Address, 0, len(val))
		for _, item := range val {
			list, err := AddressesFrom(item)
			if err != nil {
				return nil, err
			}
			out = append(out, list...)
		}
		return out, nil
	case map[string]string:
		return fromKeyedMap(val)
	case map[string]any:
		return fromShapedMap(val)
	default:
		return nil, fmt.Errorf("%w: unsupported shape %T", ErrInvalidAddress, v)
	}
}

func one(r Recipient) ([]Address, error) {
	a, err := Normalize(r)
	if err != nil {
		return nil, err
	}
	return []Address{a}, nil
}

// fromKeyedMap treats keys as emails and values as display names.
// Keys are visited in sorted order so the result is deterministic.
func fromKeyedMap(m map[string]string) ([]Address, error) {
	out := make([]Address, 0, len(m))
	for _, email := range slices.Sorted(maps.Keys(m)) {
		a, err := Normalize(Named{Address: email, Name: m[email]})
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func fromShapedMap(m map[string]any) ([]Address, error) {
	email, ok := m["address"].(string)
	if !ok {
		email, ok = m["email"].(string)
	}
	if ok {
		name, _ := m["name"].(string)
		return one(Named{Address: email, Name: name})
	}

	keyed := make(map[string]string, len(m))
	for k, v := range m {
		name, ok := v.(string)
		if !ok && v != nil {
			return nil, fmt.Errorf("%w: unsupported value %T for %q", ErrInvalidAddress, v, k)
		}
		keyed[k] = name
	}
	return fromKeyedMap(keyed)
}

func dedupe(lists ...[]Address) []Address {
	seen := make(map[string]struct{})
	var out []Address
	for _, list := range lists {
		for _, a := range list {
			key := strings.ToLower(a.Address)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
