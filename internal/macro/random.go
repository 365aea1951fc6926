package macro

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxDice caps the number of dice in one roll.
const maxDice = 1000

var diceFormula = regexp.MustCompile(`(?i)^(\d*)d(\d+)([+-]\d+)?$`)

func (ev *evaluation) random(options []string) (string, bool) {
	if len(options) == 0 {
		return "", true
	}
	return options[ev.expander.intn(len(options))], true
}

// pick chooses an option from a hash of the whole text being expanded, so
// re-rendering the same text yields the same choice. Every pick in one text
// shares that hash.
func (ev *evaluation) pick(options []string) (string, bool) {
	if len(options) == 0 {
		return "", true
	}
	idx := xxhash.Sum64String(ev.source) % uint64(len(options))
	return options[idx], true
}

// roll evaluates dice notation: XdY, XdY+Z, XdY-Z, dY, or a bare Y meaning
// 1dY.
func (ev *evaluation) roll(rest string) (string, bool) {
	formula := strings.Join(strings.Fields(rest), "")
	if formula == "" {
		return "", false
	}

	count, sides, modifier := 1, 0, 0
	if n, err := strconv.Atoi(formula); err == nil {
		sides = n
	} else {
		m := diceFormula.FindStringSubmatch(formula)
		if m == nil {
			return "", false
		}
		if m[1] != "" {
			count, err = strconv.Atoi(m[1])
			if err != nil {
				return "", false
			}
		}
		sides, err = strconv.Atoi(m[2])
		if err != nil {
			return "", false
		}
		if m[3] != "" {
			modifier, err = strconv.Atoi(m[3])
			if err != nil {
				return "", false
			}
		}
	}

	if count < 1 || count > maxDice || sides < 1 {
		return "", false
	}

	total := modifier
	for i := 0; i < count; i++ {
		total += ev.expander.intn(sides) + 1
	}
	return strconv.Itoa(total), true
}
