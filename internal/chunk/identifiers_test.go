package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifierExtractor_Go(t *testing.T) {
	e := NewIdentifierExtractor()
	defer e.Close()

	src := `package main

func computeTotal(items []Item) int {
	var total int
	for _, item := range items {
		total += item.Price
	}
	return total
}
`
	ids := e.Extract("go", src)
	require.Contains(t, ids, "computeTotal")
	require.Contains(t, ids, "items")
	require.Contains(t, ids, "total")
}

func TestIdentifierExtractor_FallbackForUnknownLanguage(t *testing.T) {
	e := NewIdentifierExtractor()
	defer e.Close()

	ids := e.Extract("cobol", "MOVE totalAmount TO outputField")
	require.Contains(t, ids, "totalAmount")
	require.Contains(t, ids, "outputField")
}

func TestIdentifierExtractor_StopwordsExcluded(t *testing.T) {
	e := NewIdentifierExtractor()
	defer e.Close()

	ids := e.Extract("cobol", "the and for with this that")
	require.Empty(t, ids)
}
