package handler

import (
	"net/http"

	"github.com/hitoshi/sociallogin/internal/view"
)

// WelcomeHandler はトップページとホームページのHTTPハンドラー。
type WelcomeHandler struct {
	*pages
}

// NewWelcomeHandler はWelcomeHandlerを生成する。
func NewWelcomeHandler(p *pages) *WelcomeHandler {
	return &WelcomeHandler{pages: p}
}

// Index はトップページを返す。
// GET / , GET /welcome/index
func (h *WelcomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, view.PageWelcomeIndex, h.newPage(w, r, "Welcome"))
}

// Home はログイン後のホームページを返す。
// GET /welcome/home
func (h *WelcomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, view.PageWelcomeHome, h.newPage(w, r, "Home"))
}
