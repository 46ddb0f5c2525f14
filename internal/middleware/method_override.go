package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/sociallogin/internal/model"
)

// MethodOverrideField はHTMLフォームから実際のHTTPメソッドを指定するフィールド名。
const MethodOverrideField = "_method"

// NewMethodOverrideMiddleware はPOSTフォームの_methodフィールドを読み取り、
// PUT, PATCH, DELETEのいずれかであればリクエストメソッドを書き換える。
// ルーティングより前に配置する必要がある。
//
// フォームはここで解析されるため、maxBodyBytesを超えるボディは413、
// 解析できないボディは400で拒否する。0以下の場合は上限を設けない。
func NewMethodOverrideMiddleware(maxBodyBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !isFormRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			if maxBodyBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			}
			if err := parseFormBody(r, maxBodyBytes); err != nil {
				slog.Warn("failed to parse form body",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				status := http.StatusBadRequest
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					status = http.StatusRequestEntityTooLarge
				}
				WriteErrorResponse(w, status, model.NewInvalidBodyError())
				return
			}

			switch m := strings.ToUpper(r.PostForm.Get(MethodOverrideField)); m {
			case http.MethodPut, http.MethodPatch, http.MethodDelete:
				r.Method = m
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseFormBody(r *http.Request, maxBodyBytes int64) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if maxBodyBytes <= 0 {
			maxBodyBytes = 32 << 20
		}
		return r.ParseMultipartForm(maxBodyBytes)
	}
	return r.ParseForm()
}

func isFormRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}
