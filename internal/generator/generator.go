package generator

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// Scratch file names and other one-off identifiers come from one.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// SequenceGenerator yields prefix-1, prefix-2, ... in order. It is useful
// where names must be predictable. It is not safe for concurrent use.
type SequenceGenerator struct {
	Prefix string
	n      int
}

func (g *SequenceGenerator) Next() (string, error) {
	g.n++
	return fmt.Sprintf("%s-%d", g.Prefix, g.n), nil
}

var _ Generator[string] = &SequenceGenerator{}
