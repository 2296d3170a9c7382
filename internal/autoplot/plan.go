package autoplot

import (
	"strings"
	"unicode"
)

// PlanType is the kind of scan encoded in a plan name.
type PlanType string

const (
	// PlanXAFS is an energy scan; its x column is always EnergyColumn.
	PlanXAFS PlanType = "xafs"
	// PlanLinescan is a motor scan; its x column is the motor named in the
	// plan name.
	PlanLinescan PlanType = "linescan"
)

// EnergyColumn is the monochromator energy channel used as x for XAFS scans.
const EnergyColumn = "dcm_energy"

// SubType is the measurement mode suffix of a plan name.
type SubType string

const (
	SubI0           SubType = "I0"
	SubIt           SubType = "It"
	SubIr           SubType = "Ir"
	SubIf           SubType = "If"
	SubTrans        SubType = "trans"
	SubFluorescence SubType = "fluorescence"
	SubRef          SubType = "ref"
)

// SkipReason explains why a run (or part of it) produced no chart.
type SkipReason string

const (
	SkipNoPlanName      SkipReason = "no_plan_name"
	SkipShortPlanName   SkipReason = "short_plan_name"
	SkipUnsupportedPlan SkipReason = "unsupported_plan"
	SkipUnknownSubType  SkipReason = "unknown_subtype"
	SkipMissingMotor    SkipReason = "missing_motor"
	SkipMissingElement  SkipReason = "missing_element"
	SkipBadExpression   SkipReason = "bad_expression"
)

// fluorescenceSlot marks table entries that need the element-dependent
// numerator.
const fluorescenceSlot = "<fluorescence>"

// yExpressions maps each sub-type to the quantities plotted for it, in
// display order.
var yExpressions = map[SubType][]string{
	SubI0:           {"I0"},
	SubIt:           {"It/I0"},
	SubIr:           {"Ir/It"},
	SubIf:           {fluorescenceSlot},
	SubTrans:        {"log(I0/It)", "log(It/Ir)", "I0", "It/I0", "Ir/It"},
	SubFluorescence: {fluorescenceSlot, "log(I0/It)", "log(It/Ir)", "I0", "It/I0", "Ir/It"},
	SubRef:          {"log(It/Ir)", "It/I0", "Ir/It"},
}

// detectorChannels is the number of fluorescence detector elements summed
// into the numerator.
const detectorChannels = 4

// Plan is the decoded form of a plan-name string.
type Plan struct {
	Tokens  []string
	Type    PlanType
	SubType SubType
	X       string
}

// Key is the normalized plan name used in plot keys.
func (p Plan) Key() string { return strings.Join(p.Tokens, " ") }

// ParsePlan decodes a plan name such as "rel_scan linescan xafs_y It" or
// "scan_nd xafs trans". The plan type is normally the second token; a name
// that starts with the plan type ("linescan theta I0") is accepted too. The
// sub-type is always the last token. A non-empty SkipReason means the plan
// cannot be plotted.
func ParsePlan(planName string) (Plan, SkipReason) {
	tokens := strings.Fields(planName)
	switch {
	case len(tokens) == 0:
		return Plan{}, SkipNoPlanName
	case len(tokens) < 2:
		return Plan{}, SkipShortPlanName
	}

	typeIdx := -1
	for _, i := range []int{1, 0} {
		if pt := PlanType(tokens[i]); pt == PlanXAFS || pt == PlanLinescan {
			typeIdx = i
			break
		}
	}
	if typeIdx < 0 {
		return Plan{}, SkipUnsupportedPlan
	}

	last := len(tokens) - 1
	p := Plan{
		Tokens:  tokens,
		Type:    PlanType(tokens[typeIdx]),
		SubType: SubType(tokens[last]),
	}
	if last == typeIdx {
		return Plan{}, SkipUnknownSubType
	}
	if _, ok := yExpressions[p.SubType]; !ok {
		return Plan{}, SkipUnknownSubType
	}

	switch p.Type {
	case PlanXAFS:
		p.X = EnergyColumn
	case PlanLinescan:
		motor := typeIdx + 1
		if motor >= last {
			return Plan{}, SkipMissingMotor
		}
		p.X = tokens[motor]
	}
	return p, ""
}

// FluorescenceSum builds the summed detector numerator for an element
// symbol: "Fe" gives "Fe1+Fe2+Fe3+Fe4". It returns "" when the symbol is not
// a one or two letter element code.
func FluorescenceSum(symbol string) string {
	if !validSymbol(symbol) {
		return ""
	}
	terms := make([]string, detectorChannels)
	for i := range terms {
		terms[i] = symbol + string(rune('1'+i))
	}
	return strings.Join(terms, "+")
}

func validSymbol(s string) bool {
	if len(s) < 1 || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// YExpressions resolves the y-expressions for a sub-type. Entries that need a
// fluorescence numerator are dropped when element is not usable; the number
// dropped is returned alongside.
func YExpressions(sub SubType, element string) (exprs []string, dropped int) {
	table, ok := yExpressions[sub]
	if !ok {
		return nil, 0
	}
	sum := FluorescenceSum(element)
	for _, y := range table {
		if y != fluorescenceSlot {
			exprs = append(exprs, y)
			continue
		}
		if sum == "" {
			dropped++
			continue
		}
		exprs = append(exprs, "("+sum+")/I0")
	}
	return exprs, dropped
}

// transmissionPair is shown on a single figure when both are plotted.
var transmissionPair = [2]string{"I0", "It/I0"}

const transmissionPairTitle = "It and I0"

// figureGroups splits resolved expressions into figures. Every expression
// gets its own figure except the incident/transmitted pair, which shares
// one placed where the first of the two appears.
func figureGroups(exprs []string) [][]string {
	hasPair := contains(exprs, transmissionPair[0]) && contains(exprs, transmissionPair[1])
	var groups [][]string
	pairPlaced := false
	for _, y := range exprs {
		if hasPair && (y == transmissionPair[0] || y == transmissionPair[1]) {
			if !pairPlaced {
				groups = append(groups, []string{transmissionPair[0], transmissionPair[1]})
				pairPlaced = true
			}
			continue
		}
		groups = append(groups, []string{y})
	}
	return groups
}

func figureTitle(ys []string) string {
	if len(ys) == 2 && ys[0] == transmissionPair[0] && ys[1] == transmissionPair[1] {
		return transmissionPairTitle
	}
	return strings.Join(ys, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
