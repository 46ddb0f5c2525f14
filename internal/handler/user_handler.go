package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/view"
)

// maxUserBodyBytes はユーザー属性として受け付けるリクエストボディの上限。
const maxUserBodyBytes = 64 << 10

// userResponse はユーザーのJSON表現。
type userResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Email      string             `json:"email,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Identities []identityResponse `json:"identities,omitempty"`
}

type identityResponse struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// validationErrorResponse は検証エラーのJSON表現。
type validationErrorResponse struct {
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	for _, ident := range u.Identities {
		resp.Identities = append(resp.Identities, identityResponse{Provider: ident.Provider, CreatedAt: ident.CreatedAt})
	}
	return resp
}

// UserHandler はユーザーリソースのHTTPハンドラー。
// Acceptヘッダーに応じてHTMLまたはJSONを返す。
type UserHandler struct {
	*pages
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, p *pages) *UserHandler {
	return &UserHandler{pages: p, service: service}
}

// Index はユーザー一覧を返す。ユーザーがいなくても200を返す。
// GET /users
func (h *UserHandler) Index(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if wantsJSON(r) {
		resp := make([]userResponse, 0, len(users))
		for _, u := range users {
			resp = append(resp, toUserResponse(u))
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	page := h.newPage(w, r, "Users")
	page.Users = users
	h.render(w, http.StatusOK, view.PageUsersIndex, page)
}

// New は新規作成フォームを返す。
// GET /users/new
func (h *UserHandler) New(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, nil, model.UserAttributes{}, nil)
}

// Create はユーザーを作成し、詳細ページへリダイレクトする。
// 検証エラーの場合はフォームを422で再表示する。
// POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	changes, err := parseUserChanges(w, r)
	if err != nil {
		h.rejectBody(w, r, err)
		return
	}
	attrs := changes.Apply(model.UserAttributes{})

	user, err := h.service.Create(r.Context(), attrs)
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		h.validationFailed(w, r, nil, attrs, verr)
		return
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	location := "/users/" + user.ID
	if wantsJSON(r) {
		w.Header().Set("Location", location)
		writeJSON(w, http.StatusCreated, toUserResponse(user))
		return
	}
	h.setFlash(w, "User was successfully created.")
	http.Redirect(w, r, location, http.StatusFound)
}

// Show はユーザー詳細を返す。
// GET /users/{id}
func (h *UserHandler) Show(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, toUserResponse(user))
		return
	}

	page := h.newPage(w, r, user.Name)
	page.User = user
	h.render(w, http.StatusOK, view.PageUsersShow, page)
}

// Edit は編集フォームを返す。
// GET /users/{id}/edit
func (h *UserHandler) Edit(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, user, user.Attributes(), nil)
}

// Update は送信された属性でユーザーを更新し、詳細ページへリダイレクトする。
// PUT/PATCH /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	changes, err := parseUserChanges(w, r)
	if err != nil {
		h.rejectBody(w, r, err)
		return
	}

	user, err := h.service.Update(r.Context(), id, changes)
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		current, getErr := h.service.Get(r.Context(), id)
		if getErr != nil {
			h.handleServiceError(w, r, getErr)
			return
		}
		h.validationFailed(w, r, current, changes.Apply(current.Attributes()), verr)
		return
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, toUserResponse(user))
		return
	}
	h.setFlash(w, "User was successfully updated.")
	http.Redirect(w, r, "/users/"+user.ID, http.StatusFound)
}

// Destroy はユーザーを削除し、一覧へリダイレクトする。
// DELETE /users/{id}
func (h *UserHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.setFlash(w, "User was successfully destroyed.")
	http.Redirect(w, r, "/users", http.StatusFound)
}

// renderForm は新規作成（userがnil）または編集フォームを描画する。
func (h *UserHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, user *model.User, form model.UserAttributes, fieldErrors map[string]string) {
	if user == nil {
		page := h.newPage(w, r, "New user")
		page.Form = form
		page.Errors = fieldErrors
		page.FormAction = "/users"
		page.FormMethod = http.MethodPost
		h.render(w, status, view.PageUsersNew, page)
		return
	}

	page := h.newPage(w, r, "Editing user")
	page.User = user
	page.Form = form
	page.Errors = fieldErrors
	page.FormAction = "/users/" + user.ID
	page.FormMethod = http.MethodPatch
	h.render(w, status, view.PageUsersEdit, page)
}

// validationFailed は検証エラーを422で返す。HTMLの場合は送信値を保持したフォームを再表示する。
func (h *UserHandler) validationFailed(w http.ResponseWriter, r *http.Request, user *model.User, form model.UserAttributes, verr *model.ValidationError) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{
			Code:   model.ErrCodeValidationFailed,
			Fields: verr.Fields,
		})
		return
	}
	h.renderForm(w, r, http.StatusUnprocessableEntity, user, form, verr.Fields)
}

// rejectBody は解析できないリクエストボディに400を返す。
func (h *UserHandler) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	slog.Warn("failed to parse user attributes",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusBadRequest, validationErrorResponse{
		Code:   model.ErrCodeValidationFailed,
		Fields: map[string]string{"base": "リクエストボディを解析できません。"},
	})
}

// userBody はJSONボディのユーザー属性。存在しないキーはnilのまま残る。
type userBody struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// parseUserChanges はフォームまたはJSONボディから送信された属性のみを取り出す。
func parseUserChanges(w http.ResponseWriter, r *http.Request) (model.UserChanges, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUserBodyBytes)

	if hasJSONBody(r) {
		var body userBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return model.UserChanges{}, err
		}
		return model.UserChanges{Name: body.Name, Email: body.Email}, nil
	}

	if err := r.ParseForm(); err != nil {
		return model.UserChanges{}, err
	}
	var changes model.UserChanges
	if values, ok := r.PostForm["name"]; ok && len(values) > 0 {
		changes.Name = &values[0]
	}
	if values, ok := r.PostForm["email"]; ok && len(values) > 0 {
		changes.Email = &values[0]
	}
	return changes, nil
}
