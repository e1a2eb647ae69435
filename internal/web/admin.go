package web

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func AdminPromptLibrary(data AdminPromptLibraryData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Copycatch Admin - Prompt Library</title>
    <link rel="stylesheet" href="/static/styles.css"/>
  </head>
  <body>
    <main class="shell admin">
      <header class="hero">
        <span class="tag">Admin</span>
        <h1>Prompt Library</h1>
      </header>
`)
		if data.Error != "" {
			_, _ = io.WriteString(w, `      <div class="banner error">`+templ.EscapeString(data.Error)+`</div>
`)
		}
		if data.Notice != "" {
			_, _ = io.WriteString(w, `      <div class="banner notice">`+templ.EscapeString(data.Notice)+`</div>
`)
		}
		_, _ = io.WriteString(w, `      <section class="panel">
        <h2>Add prompt</h2>
        <form method="post" action="/admin/prompts" class="prompt-form">
          <input name="category" placeholder="Category (optional)" autocomplete="off"/>
          <input name="text" placeholder="Prompt text" autocomplete="off" required value="`+templ.EscapeString(data.DraftText)+`"/>
          <button type="submit" class="primary">Add</button>
        </form>
      </section>

      <section class="panel">
        <h2>Prompts (`+itoa(data.Pagination.Total)+`)</h2>
        <table class="data">
          <thead>
            <tr><th>ID</th><th>Category</th><th>Text</th><th>Added</th><th></th></tr>
          </thead>
          <tbody>
`)
		for _, prompt := range data.Prompts {
			_, _ = io.WriteString(w, `            <tr>
              <td>`+utoa(prompt.ID)+`</td>
              <td>`+templ.EscapeString(prompt.Category)+`</td>
              <td>
                <form method="post" action="/admin/prompts/`+utoa(prompt.ID)+`/update" class="inline-form">
                  <input name="text" value="`+templ.EscapeString(prompt.Text)+`"/>
                  <button type="submit" class="secondary">Save</button>
                </form>
              </td>
              <td>`+formatTime(prompt.CreatedAt)+`</td>
              <td>
                <form method="post" action="/admin/prompts/`+utoa(prompt.ID)+`/delete" class="inline-form">
                  <button type="submit" class="danger">Delete</button>
                </form>
              </td>
            </tr>
`)
		}
		_, _ = io.WriteString(w, `          </tbody>
        </table>
`)
		writePagination(w, data.Pagination)
		_, _ = io.WriteString(w, `      </section>
    </main>
  </body>
</html>
`)
		return nil
	})
}

func writePagination(w io.Writer, p PaginationData) {
	if p.TotalPages <= 1 {
		return
	}
	_, _ = io.WriteString(w, `        <nav class="pagination">
`)
	if p.HasPrev {
		_, _ = io.WriteString(w, `          <a href="`+pageURL(p.BasePath, p.PrevPage, p.PerPage)+`">&larr; Prev</a>
`)
	}
	_, _ = io.WriteString(w, `          <span>Page `+itoa(p.Page)+` of `+itoa(p.TotalPages)+`</span>
`)
	if p.HasNext {
		_, _ = io.WriteString(w, `          <a href="`+pageURL(p.BasePath, p.NextPage, p.PerPage)+`">Next &rarr;</a>
`)
	}
	_, _ = io.WriteString(w, `        </nav>
`)
}
