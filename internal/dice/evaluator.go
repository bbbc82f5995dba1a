// Package dice implements the Dice Evaluator: parsing roll expressions and
// resolving them against the raw values popped from one entropy entry.
package dice

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhouzirui/turnkeeper/internal/model"
)

// ErrExpressionInvalid indicates the expression does not parse.
var ErrExpressionInvalid = errors.New("dice: expression invalid")

// ErrEntropyExhausted indicates the entry's pool ran out of raw values
// before the expression finished drawing.
var ErrEntropyExhausted = errors.New("dice: entropy entry exhausted")

var (
	diceExprRe  = regexp.MustCompile(`^(\d+)d(\d+)(adv|dis)?(\+\d+)?(-\d+)?$`)
	checkExprRe = regexp.MustCompile(`^check:([A-Za-z0-9_-]+)(:adv|:dis)?([+-]\d+)?$`)
)

// Result is the outcome of evaluating one expression against one entry.
type Result struct {
	Total     int
	Breakdown string
}

// Evaluator parses and resolves dice expressions.
type Evaluator struct{}

// New returns a stateless Evaluator.
func New() *Evaluator { return &Evaluator{} }

// Evaluate resolves expr against the raw pools carried by entry. It pops
// values from entry's pools in order and never consults any other entry —
// the caller (Turn Engine or Roll Service) is responsible for mapping one
// expression to one entropy index.
func (e *Evaluator) Evaluate(expr string, entry model.EntropyEntry) (Result, error) {
	expr = strings.TrimSpace(expr)

	if m := diceExprRe.FindStringSubmatch(expr); m != nil {
		count, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[2])
		advDis := m[3]
		modifier := parseModifier(m[4]) + parseModifier(m[5])

		if count < 1 || size < 2 {
			return Result{}, fmt.Errorf("%w: %q", ErrExpressionInvalid, expr)
		}
		if advDis != "" && (count != 1 || size != 20) {
			return Result{}, fmt.Errorf("%w: advantage/disadvantage only applies to a single d20: %q", ErrExpressionInvalid, expr)
		}

		d20 := newPopper(entry.D20)
		d100 := newPopper(entry.D100)

		if advDis != "" {
			return resolveAdvantage(advDis, modifier, d20)
		}
		return resolveDice(count, size, modifier, d20, d100)
	}

	if m := checkExprRe.FindStringSubmatch(expr); m != nil {
		name := m[1]
		advDis := strings.TrimPrefix(m[2], ":")
		modifier := parseModifier(m[3])

		d20 := newPopper(entry.D20)
		if advDis != "" {
			res, err := resolveAdvantage(advDis, modifier, d20)
			if err != nil {
				return Result{}, err
			}
			res.Breakdown = fmt.Sprintf("%s check: %s", name, res.Breakdown)
			return res, nil
		}

		raw, ok := d20.next()
		if !ok {
			return Result{}, fmt.Errorf("%w", ErrEntropyExhausted)
		}
		total := raw + modifier
		return Result{
			Total:     total,
			Breakdown: fmt.Sprintf("%s check: d20=%d %s = %d", name, raw, modifierSuffix(modifier), total),
		}, nil
	}

	return Result{}, fmt.Errorf("%w: %q", ErrExpressionInvalid, expr)
}

func resolveAdvantage(advDis string, modifier int, d20 *popper) (Result, error) {
	v1, ok1 := d20.next()
	v2, ok2 := d20.next()
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("%w", ErrEntropyExhausted)
	}

	chosen := v1
	label := "advantage"
	if advDis == "adv" {
		if v2 > chosen {
			chosen = v2
		}
	} else {
		label = "disadvantage"
		if v2 < chosen {
			chosen = v2
		}
	}

	total := chosen + modifier
	return Result{
		Total:     total,
		Breakdown: fmt.Sprintf("d20 %s: [%d,%d] -> %d %s = %d", label, v1, v2, chosen, modifierSuffix(modifier), total),
	}, nil
}

func resolveDice(count, size, modifier int, d20, d100 *popper) (Result, error) {
	pool := d20
	natural := 20
	if size == 100 {
		pool = d100
		natural = 100
	}

	values := make([]int, 0, count)
	sum := 0
	for i := 0; i < count; i++ {
		raw, ok := pool.next()
		if !ok {
			return Result{}, fmt.Errorf("%w", ErrEntropyExhausted)
		}
		v := MapRaw(raw, size, natural)
		values = append(values, v)
		sum += v
	}

	total := sum + modifier
	return Result{
		Total:     total,
		Breakdown: fmt.Sprintf("%dd%d: %v %s = %d", count, size, values, modifierSuffix(modifier), total),
	}, nil
}

// MapRaw maps a raw value drawn from a pool whose natural die size is
// `natural` onto a die of size `size`. For size == natural the mapping is
// the identity (spec §4.1: "for X=20 and X=100 the identity mapping
// holds").
func MapRaw(raw, size, natural int) int {
	if size == natural {
		return raw
	}
	return 1 + ((raw - 1) % size)
}

func parseModifier(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func modifierSuffix(modifier int) string {
	if modifier == 0 {
		return "+0"
	}
	if modifier > 0 {
		return fmt.Sprintf("+%d", modifier)
	}
	return fmt.Sprintf("%d", modifier)
}

type popper struct {
	pool []int
	i    int
}

func newPopper(pool []int) *popper { return &popper{pool: pool} }

func (p *popper) next() (int, bool) {
	if p == nil || p.i >= len(p.pool) {
		return 0, false
	}
	v := p.pool[p.i]
	p.i++
	return v, true
}

// DiceCount reports how many raw values an expression needs.
func DiceCount(expr string) (int, error) {
	expr = strings.TrimSpace(expr)
	if m := diceExprRe.FindStringSubmatch(expr); m != nil {
		if m[3] != "" {
			return 2, nil
		}
		count, _ := strconv.Atoi(m[1])
		return count, nil
	}
	if m := checkExprRe.FindStringSubmatch(expr); m != nil {
		if strings.TrimPrefix(m[2], ":") != "" {
			return 2, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrExpressionInvalid, expr)
}
