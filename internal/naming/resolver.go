// Package naming maps raw table and column names to graph class and property
// names under a configurable convention.
package naming

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
)

// ErrUnknownStrategy is returned by New for an unregistered strategy name.
var ErrUnknownStrategy = errors.New("naming: unknown strategy")

// Strategy names accepted by New.
const (
	StrategyOriginal   = "original"
	StrategyJava       = "java"
	StrategyCapitalize = "capitalize"
)

// Resolver computes graph names from relational names. Implementations are
// pure and safe for concurrent use.
type Resolver interface {
	VertexName(table string) string
	PropertyName(column string) string
}

// New returns the resolver registered under strategy. An empty name selects
// the java convention.
func New(strategy string) (Resolver, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyJava:
		return JavaResolver{}, nil
	case StrategyOriginal:
		return OriginalResolver{}, nil
	case StrategyCapitalize:
		return CapitalizeResolver{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// OriginalResolver keeps names as they appear in the source.
type OriginalResolver struct{}

func (OriginalResolver) VertexName(table string) string   { return table }
func (OriginalResolver) PropertyName(column string) string { return column }

// JavaResolver produces UpperCamelCase class names and lowerCamelCase
// property names: FILM_ACTOR becomes FilmActor, FIRST_NAME becomes firstName.
type JavaResolver struct{}

func (JavaResolver) VertexName(table string) string {
	return inflect.Camelize(normalize(table))
}

func (JavaResolver) PropertyName(column string) string {
	return inflect.CamelizeDownFirst(normalize(column))
}

// CapitalizeResolver capitalizes the first letter of every word and drops the
// separators, for both classes and properties.
type CapitalizeResolver struct{}

func (CapitalizeResolver) VertexName(table string) string   { return capitalizeWords(table) }
func (CapitalizeResolver) PropertyName(column string) string { return capitalizeWords(column) }

// normalize lowercases all-uppercase identifiers so camelization sees word
// boundaries only at separators, and turns spaces and dashes into underscores.
func normalize(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if !hasLower(name) {
		return strings.ToLower(name)
	}
	return inflect.Underscore(name)
}

func hasLower(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func capitalizeWords(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == ' ' || r == '-' || r == '.'
	})
	var b strings.Builder
	for _, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	if b.Len() == 0 {
		return name
	}
	return b.String()
}
