package user

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/security"
)

const (
	// MaxNameLength は名前の最大文字数（rune単位）。
	MaxNameLength = 100
	// MaxEmailLength はメールアドレスの最大長。
	MaxEmailLength = 254
)

// Validator はユーザー属性の正規化と検証を行う。状態を持たない。
type Validator struct {
	sanitizer *security.TextSanitizer
}

// NewValidator はValidatorを生成する。
func NewValidator(sanitizer *security.TextSanitizer) *Validator {
	return &Validator{sanitizer: sanitizer}
}

// Normalize は名前からHTMLを除去し、メールアドレスを小文字化する。
func (v *Validator) Normalize(attrs model.UserAttributes) model.UserAttributes {
	return model.UserAttributes{
		Name:  v.sanitizer.SanitizeText(attrs.Name),
		Email: strings.ToLower(strings.TrimSpace(attrs.Email)),
	}
}

// Validate は正規化済みの属性を検証する。
// 違反がある場合は*model.ValidationErrorを返す。
func (v *Validator) Validate(attrs model.UserAttributes) error {
	verr := &model.ValidationError{}

	switch {
	case attrs.Name == "":
		verr.Add("name", "名前を入力してください。")
	case utf8.RuneCountInString(attrs.Name) > MaxNameLength:
		verr.Add("name", "名前は100文字以内で入力してください。")
	}

	if attrs.Email != "" {
		if len(attrs.Email) > MaxEmailLength {
			verr.Add("email", "メールアドレスは254文字以内で入力してください。")
		} else if !validEmail(attrs.Email) {
			verr.Add("email", "メールアドレスの形式が正しくありません。")
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ProfileAttributes はIdPから受け取ったプロフィールを、常に検証を通る属性に変換する。
// 名前が使えない場合はプロバイダー名とIDから生成し、メールアドレスが不正な場合は空にする。
func (v *Validator) ProfileAttributes(identity *model.VerifiedIdentity) model.UserAttributes {
	attrs := v.Normalize(model.UserAttributes{Name: identity.Name, Email: identity.Email})

	if attrs.Name == "" {
		attrs.Name = v.sanitizer.SanitizeText(identity.Provider + " user " + identity.ProviderUserID)
	}
	attrs.Name = truncateRunes(attrs.Name, MaxNameLength)

	if attrs.Email != "" && (len(attrs.Email) > MaxEmailLength || !validEmail(attrs.Email)) {
		attrs.Email = ""
	}
	return attrs
}

// validEmail は表示名なしの単一アドレスのみを許可する。
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
