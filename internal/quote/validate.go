package quote

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Simplici0/epackage/internal/pricing"
)

const (
	minDimension        = 50
	expressQuantityWarn = 10000
)

// exclusiveGroups lists option groups of which at most one may be selected.
var exclusiveGroups = []struct {
	label   string
	matches func(id string) bool
}{
	{label: "チャック", matches: func(id string) bool { return strings.HasPrefix(id, "zipper-") }},
	{label: "角加工", matches: func(id string) bool { return strings.HasPrefix(id, "corner-") }},
	{label: "表面仕上げ", matches: func(id string) bool { return id == "glossy" || id == "matte" }},
}

// Result is the outcome of validating one step.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks the rules of step against s. It never modifies s.
func Validate(s State, step Step) Result {
	r := Result{Errors: []string{}, Warnings: []string{}}

	switch step {
	case StepSpecs:
		validateSpecs(s, &r)
	case StepQuantity:
		validateQuantity(s, &r)
	case StepPostProcessing:
		validatePostProcessing(s, &r)
	case StepDelivery:
		validateDelivery(s, &r)
	default:
		r.errorf("不明なステップです: %s", step)
	}

	r.IsValid = len(r.Errors) == 0
	return r
}

// ValidateAll validates every step.
func ValidateAll(s State) map[Step]Result {
	results := make(map[Step]Result, len(Steps))
	for _, step := range Steps {
		results[step] = Validate(s, step)
	}
	return results
}

func validateSpecs(s State, r *Result) {
	if s.BagTypeID == "" {
		r.errorf("袋の種類を選択してください")
	}
	if s.MaterialID == "" {
		r.errorf("素材を選択してください")
	}
	if !(s.Width >= minDimension) {
		r.errorf("幅は%dmm以上で入力してください", minDimension)
	} else if s.Width > pricing.MaxDimension {
		r.errorf("幅は%dmm以下で入力してください", pricing.MaxDimension)
	}
	if !(s.Height >= minDimension) {
		r.errorf("高さは%dmm以上で入力してください", minDimension)
	} else if s.Height > pricing.MaxDimension {
		r.errorf("高さは%dmm以下で入力してください", pricing.MaxDimension)
	}
	if s.BagTypeID != "" && !pricing.IsFlatBagType(s.BagTypeID) && s.Depth <= 0 {
		r.errorf("この袋の種類にはマチ（奥行き）の入力が必要です")
	}
	if thicknessRequired[s.MaterialID] && s.ThicknessSelection == "" {
		r.errorf("この素材には厚みの選択が必要です")
	}
}

func validateQuantity(s State, r *Result) {
	if s.Quantity <= 0 {
		r.errorf("数量を入力してください")
	} else if s.Quantity < pricing.MinOrderQuantity {
		r.warnf("最小注文数量は%d個です", pricing.MinOrderQuantity)
	}
	if len(s.Quantities) == 0 {
		r.errorf("比較する数量を1つ以上設定してください")
	}

	seen := make(map[int]bool, len(s.Quantities))
	for _, q := range s.Quantities {
		if seen[q] {
			r.warnf("数量%dが重複しています", q)
			continue
		}
		seen[q] = true
	}

	if s.PrintingColors < 0 || s.PrintingColors > pricing.MaxPrintingColors {
		r.errorf("印刷色数は0〜%d色の範囲で指定してください", pricing.MaxPrintingColors)
	}
	if s.IsUVPrinting && s.PrintingColors <= 0 {
		r.errorf("UV印刷には1色以上の印刷色数が必要です")
	}
}

func validatePostProcessing(s State, r *Result) {
	for _, g := range exclusiveGroups {
		selected := slices.DeleteFunc(slices.Clone(s.PostProcessingOptions), func(id string) bool { return !g.matches(id) })
		if len(selected) > 1 {
			r.errorf("%sは1つだけ選択できます（選択中: %s）", g.label, strings.Join(selected, ", "))
		}
	}

	for _, id := range s.PostProcessingOptions {
		if !pricing.IsKnownProcessingOption(id) {
			r.warnf("不明な後加工オプションです: %s", id)
		}
	}

	switch n := len(s.PostProcessingOptions); {
	case n > MaxPostProcessingOptions:
		r.errorf("後加工は最大%d個まで選択できます", MaxPostProcessingOptions)
	case n == MaxPostProcessingOptions:
		r.warnf("後加工の選択数が上限（%d個）に達しました", MaxPostProcessingOptions)
	}
}

func validateDelivery(s State, r *Result) {
	if s.DeliveryLocation == "" {
		r.errorf("配送先を選択してください")
	}
	if s.Urgency == "" {
		r.errorf("納期を選択してください")
	}
	if s.Urgency == pricing.UrgencyExpress && s.Quantity > expressQuantityWarn {
		r.warnf("%d個を超える数量の特急対応は納期が延びる可能性があります", expressQuantityWarn)
	}
}
