// Package validator checks request structs with go-playground/validator and
// reports failures in English or Chinese under their JSON field names.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
	zhtrans "github.com/go-playground/validator/v10/translations/zh"
)

// Supported message languages.
const (
	LangEN = "en"
	LangZH = "zh"
)

type language struct {
	locale   locales.Translator
	register func(*validator.Validate, ut.Translator) error
	// notBlank is the message of the notblank rule.
	notBlank string
}

var languages = map[string]language{
	LangEN: {en.New(), entrans.RegisterDefaultTranslations, "{0} must not be blank"},
	LangZH: {zh.New(), zhtrans.RegisterDefaultTranslations, "{0}不能为空白"},
}

// Validator is safe for concurrent use once built.
type Validator struct {
	validate *validator.Validate
	trans    map[string]ut.Translator
}

// New builds a Validator with the default rules, the notblank rule and
// both translations.
func New() *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		trans:    make(map[string]ut.Translator, len(languages)),
	}
	v.validate.RegisterTagNameFunc(fieldName)
	_ = v.validate.RegisterValidation("notblank", notBlank)

	fallback := languages[LangEN].locale
	uni := ut.New(fallback, languages[LangEN].locale, languages[LangZH].locale)
	for lang, l := range languages {
		trans, _ := uni.GetTranslator(lang)
		_ = l.register(v.validate, trans)
		msg := l.notBlank
		_ = v.validate.RegisterTranslation("notblank", trans,
			func(t ut.Translator) error { return t.Add("notblank", msg, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T("notblank", fe.Field())
				return s
			},
		)
		v.trans[lang] = trans
	}
	return v
}

// fieldName reports fields by their json tag, then form tag, then Go name.
func fieldName(f reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return f.Name
}

func notBlank(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return true
	}
	return strings.ContainsFunc(fl.Field().String(), func(r rune) bool { return !unicode.IsSpace(r) })
}

// Translator returns the translator of lang, or English.
func (v *Validator) Translator(lang string) ut.Translator {
	if t, ok := v.trans[lang]; ok {
		return t
	}
	return v.trans[LangEN]
}

// Validate returns the raw validator error.
func (v *Validator) Validate(s any) error {
	return v.validate.Struct(s)
}

// ValidateWithLang validates s and translates the result into lang.
func (v *Validator) ValidateWithLang(s any, lang string) *ValidationErrors {
	return v.Translate(v.validate.Struct(s), lang)
}

// Translate turns a Validate error into ValidationErrors. Any other error,
// such as malformed JSON from a binding, becomes a single "request" entry.
func (v *Validator) Translate(err error, lang string) *ValidationErrors {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationErrors{Errors: []FieldError{{Field: "request", Tag: "invalid", Message: err.Error()}}}
	}

	trans := v.Translator(lang)
	out := &ValidationErrors{Errors: make([]FieldError, len(verrs))}
	for i, fe := range verrs {
		out.Errors[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param(), Message: fe.Translate(trans)}
	}
	return out
}

// Engine exposes the wrapped validator.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// LangFromAcceptLanguage returns the first supported language named in an
// Accept-Language header, or English.
func LangFromAcceptLanguage(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		tag, _, _ := strings.Cut(part, ";")
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, lang := range []string{LangZH, LangEN} {
			if strings.HasPrefix(tag, lang) {
				return lang
			}
		}
	}
	return LangEN
}

// GinValidator plugs Validator into gin's binding package.
type GinValidator struct {
	V *Validator
}

// ValidateStruct checks structs and struct pointers and lets anything else
// through.
func (g GinValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	rv := reflect.Indirect(reflect.ValueOf(obj))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	return g.V.Validate(obj)
}

func (g GinValidator) Engine() any {
	return g.V.Engine()
}
