package web

import "copycatch/internal/db"

type PaginationData struct {
	BasePath   string
	Page       int
	PerPage    int
	Total      int
	TotalPages int
	HasPrev    bool
	HasNext    bool
	PrevPage   int
	NextPage   int
}

type AdminPromptLibraryData struct {
	Prompts    []db.PromptLibrary
	Error      string
	Notice     string
	DraftText  string
	Pagination PaginationData
}
