package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	postalCodePattern = regexp.MustCompile(`^\d{3}-?\d{4}$`)
	phonePattern      = regexp.MustCompile(`^0\d{1,4}-?\d{1,4}-?\d{3,4}$`)
)

var fieldLabels = map[string]string{
	"lastName":   "姓",
	"firstName":  "名",
	"postalCode": "郵便番号",
	"prefecture": "都道府県",
	"city":       "市区町村",
	"address1":   "番地",
	"phone":      "電話番号",
	"email":      "メールアドレス",
	"type":       "お支払い方法",
	"cardToken":  "カード情報",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("jp_postal", func(fl validator.FieldLevel) bool {
		return postalCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("jp_phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateStep returns the field errors that keep the wizard on step, keyed by
// "<section>.<field>". An empty map means the step is complete.
func ValidateStep(s State, step int) map[string]string {
	errs := map[string]string{}
	switch step {
	case StepBilling:
		if s.BillingAddress == nil {
			errs["billingAddress"] = "請求先情報を入力してください"
			break
		}
		collect(errs, "billingAddress", validate.Struct(s.BillingAddress))
	case StepShipping:
		if s.ShippingAddress == nil {
			errs["shippingAddress"] = "配送先住所を入力してください"
			break
		}
		collect(errs, "shippingAddress", validate.Struct(s.ShippingAddress))
	case StepPayment:
		if s.PaymentMethod == nil {
			errs["paymentMethod"] = "お支払い方法を選択してください"
			break
		}
		collect(errs, "paymentMethod", validate.Struct(s.PaymentMethod))
	case StepReview:
		if len(s.OrderItems) == 0 {
			errs["orderItems"] = "カートに商品がありません"
		}
		if s.Summary == nil {
			errs["summary"] = "注文金額が計算されていません"
		}
	default:
		errs["currentStep"] = "不明なステップです"
	}
	return errs
}

// CanProceed reports whether the current step is complete.
func CanProceed(s State) bool {
	return len(ValidateStep(s, s.CurrentStep)) == 0
}

func collect(errs map[string]string, section string, err error) {
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[section] = "入力内容を確認してください"
		return
	}
	for _, fe := range verrs {
		label, ok := fieldLabels[fe.Field()]
		if !ok {
			label = fe.Field()
		}
		key := section + "." + fe.Field()
		switch fe.Tag() {
		case "required", "required_if":
			errs[key] = label + "を入力してください"
		case "oneof":
			errs[key] = label + "を選択してください"
		default:
			errs[key] = label + "の形式が正しくありません"
		}
	}
}
