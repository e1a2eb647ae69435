package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"copycatch/internal/db"
	"copycatch/internal/web"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
)

const (
	adminPromptsPerPage    = 50
	adminPhrasesetsPerPage = 25
	adminMaxPerPage        = 200
)

func (s *Server) handleAdminPromptsView(c *gin.Context) {
	page, perPage := parsePagination(c, adminPromptsPerPage, adminMaxPerPage)
	data := s.loadPromptLibraryData(page, perPage)
	if data.Error == "" {
		if msg := strings.TrimSpace(c.Query("error")); msg != "" {
			data.Error = msg
		}
	}
	data.Notice = strings.TrimSpace(c.Query("notice"))
	templ.Handler(web.AdminPromptLibrary(data)).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleAdminPromptCreate(c *gin.Context) {
	text, err := validatePromptText(c.PostForm("text"))
	if err != nil {
		s.renderPromptLibraryError(c, err.Error(), c.PostForm("text"))
		return
	}
	entry := db.PromptLibrary{
		Category: strings.TrimSpace(c.PostForm("category")),
		Text:     text,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.renderPromptLibraryError(c, "Failed to save prompt (it may already exist).", text)
		return
	}
	notice := url.QueryEscape("Prompt added.")
	c.Redirect(http.StatusFound, "/admin/prompts?notice="+notice)
}

func (s *Server) handleAdminPromptUpdate(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		s.renderPromptLibraryError(c, "Invalid prompt id.", "")
		return
	}
	text, err := validatePromptText(c.PostForm("text"))
	if err != nil {
		s.renderPromptLibraryError(c, err.Error(), c.PostForm("text"))
		return
	}
	var entry db.PromptLibrary
	if err := s.db.First(&entry, uint(id)).Error; err != nil {
		s.renderPromptLibraryError(c, "Prompt not found.", "")
		return
	}
	if err := s.db.Model(&entry).Updates(map[string]any{
		"Text": text,
	}).Error; err != nil {
		s.renderPromptLibraryError(c, "Failed to update prompt (it may already exist).", text)
		return
	}
	notice := url.QueryEscape("Prompt updated.")
	c.Redirect(http.StatusFound, "/admin/prompts?notice="+notice)
}

func (s *Server) handleAdminPromptDelete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		s.renderPromptLibraryError(c, "Invalid prompt id.", "")
		return
	}
	result := s.db.Delete(&db.PromptLibrary{}, uint(id))
	if result.Error != nil {
		s.renderPromptLibraryError(c, "Failed to delete prompt.", "")
		return
	}
	if result.RowsAffected == 0 {
		s.renderPromptLibraryError(c, "Prompt not found.", "")
		return
	}
	notice := url.QueryEscape("Prompt deleted.")
	c.Redirect(http.StatusFound, "/admin/prompts?notice="+notice)
}

func (s *Server) handleAdminPhrasesets(c *gin.Context) {
	page, perPage := parsePagination(c, adminPhrasesetsPerPage, adminMaxPerPage)
	status := strings.TrimSpace(c.Query("status"))
	sets, total, err := s.game.ListPhrasesets(c.Request.Context(), status, (page-1)*perPage, perPage)
	if err != nil {
		s.respondError(c, err)
		return
	}
	payload := make([]gin.H, 0, len(sets))
	for _, set := range sets {
		payload = append(payload, gin.H{
			"phraseset_id":       set.ID,
			"prompt":             set.PromptText,
			"status":             set.Status,
			"vote_count":         set.VoteCount,
			"total_pool":         set.TotalPool,
			"vote_contributions": set.VoteContributions,
			"vote_payouts_paid":  set.VotePayoutsPaid,
			"created_at":         set.CreatedAt,
			"finalized_at":       set.FinalizedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"phrasesets": payload,
		"total":      total,
		"page":       page,
		"per_page":   perPage,
	})
}

func (s *Server) handleAdminSweep(c *gin.Context) {
	finalized, err := s.game.Sweep(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": finalized})
}

func (s *Server) loadPromptLibraryData(page, perPage int) web.AdminPromptLibraryData {
	data := web.AdminPromptLibraryData{}
	var total int64
	if err := s.db.Model(&db.PromptLibrary{}).Count(&total).Error; err != nil {
		data.Error = "Failed to load prompt library."
		return data
	}
	data.Pagination = buildPaginationData("/admin/prompts", page, perPage, total)
	offset := (data.Pagination.Page - 1) * data.Pagination.PerPage
	if err := s.db.Order("category asc, text asc, id asc").
		Offset(offset).Limit(data.Pagination.PerPage).
		Find(&data.Prompts).Error; err != nil {
		data.Error = "Failed to load prompt library."
	}
	return data
}

func (s *Server) renderPromptLibraryError(c *gin.Context, message, text string) {
	data := s.loadPromptLibraryData(1, adminPromptsPerPage)
	data.Error = message
	data.DraftText = text
	templ.Handler(web.AdminPromptLibrary(data)).ServeHTTP(c.Writer, c.Request)
}
