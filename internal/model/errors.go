// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, user, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeRouteNotFound    = "ROUTE_NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCSRFFailed       = "CSRF_FAILED"
	ErrCodeInvalidBody      = "INVALID_REQUEST_BODY"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "user",
		Action:   "ユーザー一覧から対象を選択してください。",
	}
}

// NewRouteNotFoundError はルーティング不一致のエラーを生成する。
func NewRouteNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeRouteNotFound,
		Message:  fmt.Sprintf("ページが見つかりません: %s", path),
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "フォームの有効期限が切れています。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度送信してください。",
	}
}

// NewInvalidBodyError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  "リクエストボディを解析できません。",
		Category: "validation",
		Action:   "送信内容を確認してください。",
	}
}

// ValidationError は送信された属性が制約を満たさない場合のエラー。
// Fieldsはフィールド名からメッセージへのマップ。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError は単一フィールドのValidationErrorを生成する。
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("[%s] %s", ErrCodeValidationFailed, strings.Join(parts, ", "))
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// HasErrors はフィールドエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// AuthErrorKind は認証失敗の種別。
// /auth/failure の message パラメータにそのまま使用する。
type AuthErrorKind string

const (
	AuthErrUnknownProvider    AuthErrorKind = "unknown_provider"
	AuthErrAccessDenied       AuthErrorKind = "access_denied"
	AuthErrInvalidState       AuthErrorKind = "invalid_state"
	AuthErrInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthErrProvider           AuthErrorKind = "provider_error"
)

// AuthError はIdPとのハンドシェイク失敗を表す。
type AuthError struct {
	Kind     AuthErrorKind
	Provider string
	Err      error
}

// NewAuthError はAuthErrorを生成する。
func NewAuthError(kind AuthErrorKind, provider string, err error) *AuthError {
	return &AuthError{Kind: kind, Provider: provider, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (%s): %v", ErrCodeAuthFailed, e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("[%s] %s (%s)", ErrCodeAuthFailed, e.Kind, e.Provider)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}
