// Package captcha implements the arithmetic human-verification challenge
// shown next to the comment form.
package captcha

import (
	"fmt"
	"math/rand/v2"
)

// Operator is one of the arithmetic operations a challenge can use.
type Operator int

const (
	Add Operator = iota
	Subtract
	Multiply
)

// Symbol returns the operator as displayed in the question.
func (o Operator) Symbol() string {
	switch o {
	case Add:
		return "+"
	case Subtract:
		return "-"
	case Multiply:
		return "×"
	default:
		return "?"
	}
}

// Apply evaluates a op b.
func (o Operator) Apply(a, b int) int {
	switch o {
	case Subtract:
		return a - b
	case Multiply:
		return a * b
	default:
		return a + b
	}
}

// Source is the randomness a Generator draws from. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Challenge is a single arithmetic question.
type Challenge struct {
	ID string   `json:"id"`
	A  int      `json:"-"`
	B  int      `json:"-"`
	Op Operator `json:"-"`
}

// Question renders the challenge the way it is shown to the reader.
func (c Challenge) Question() string {
	return fmt.Sprintf("%d %s %d = ?", c.A, c.Op.Symbol(), c.B)
}

// Answer is the expected integer answer.
func (c Challenge) Answer() int {
	return c.Op.Apply(c.A, c.B)
}

// Generator produces random challenges.
type Generator struct {
	src Source
}

// NewGenerator returns a generator drawing from src, or from the global
// math/rand/v2 source when src is nil.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = globalSource{}
	}
	return &Generator{src: src}
}

// Generate returns a challenge without an ID. Addition and subtraction use
// operands in 1..20 and subtraction never goes negative; multiplication uses
// operands in 1..10.
func (g *Generator) Generate() Challenge {
	op := Operator(g.src.IntN(3))
	var a, b int
	if op == Multiply {
		a = g.src.IntN(10) + 1
		b = g.src.IntN(10) + 1
	} else {
		a = g.src.IntN(20) + 1
		b = g.src.IntN(20) + 1
		if op == Subtract && a < b {
			a, b = b, a
		}
	}
	return Challenge{A: a, B: b, Op: op}
}
