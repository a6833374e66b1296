package utils

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// FlagStringMapping maintains a registry of names for the individual bits of a
// flags type, so that combined flag values can print themselves legibly
type FlagStringMapping[T constraints.Integer] struct {
	mapping map[T]string
}

func NewFlagStringMapping[T constraints.Integer]() FlagStringMapping[T] {
	return FlagStringMapping[T]{
		mapping: make(map[T]string),
	}
}

func (m FlagStringMapping[T]) Register(value T, name string) {
	m.mapping[value] = name
}

// FlagsToString renders a combined flag value as the pipe-separated names of
// its set bits. Bits without a registered name are rendered in hex.
func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var names []string
	for bit := 0; bit < 64; bit++ {
		flag := T(1) << bit
		if flag == 0 || flag > value {
			break
		}

		if value&flag == 0 {
			continue
		}

		name, ok := m.mapping[flag]
		if !ok {
			name = fmt.Sprintf("0x%x", uint64(flag))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}
