//go:build property
// +build property

package app

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestIDProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode inverts encode", prop.ForAll(
		func(index int) bool {
			return DecodeID(EncodeID(index)) == index
		},
		gen.IntRange(0, 1<<20),
	))

	properties.Property("encoded ids are negative", prop.ForAll(
		func(index int) bool {
			return EncodeID(index) < 0
		},
		gen.IntRange(0, 1<<20),
	))

	properties.Property("distinct indexes give distinct ids", prop.ForAll(
		func(a, b int) bool {
			return (a == b) == (EncodeID(a) == EncodeID(b))
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
