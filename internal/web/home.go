package web

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func Home() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Copycatch</title>
    <link rel="stylesheet" href="/static/styles.css"/>
  </head>
  <body>
    <main class="shell">
      <header class="hero">
        <span class="tag">Copycatch</span>
        <h1>Write it. Fake it. Spot the original.</h1>
        <p>Answer a prompt, imitate someone else's answer, or vote on which phrase is the real one.</p>
      </header>

      <section class="panel">
        <div>
          <h2>Join</h2>
          <p>Pick a name to get a wallet and an API token.</p>
        </div>
        <form id="joinForm" class="join-form">
          <input name="name" placeholder="Display name" autocomplete="name" required/>
          <button type="submit" class="primary">Create player</button>
        </form>
        <div id="joinResult" class="result"></div>
      </section>

      <section class="panel">
        <div>
          <h2>How it works</h2>
          <p>Prompts cost the most and earn the most. Copies cost less and score double per vote. Votes are cheap and pay out when you spot the original.</p>
        </div>
      </section>
    </main>

    <script>
      const joinForm = document.getElementById("joinForm");
      const joinResult = document.getElementById("joinResult");

      joinForm.addEventListener("submit", async (event) => {
        event.preventDefault();
        joinResult.textContent = "Creating player...";
        const name = joinForm.elements.name.value.trim();
        const res = await fetch("/api/players", {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          body: JSON.stringify({ name })
        });
        const data = await res.json();
        if (!res.ok) {
          joinResult.textContent = data.error || "Failed to create player.";
          return;
        }
        joinResult.textContent = "Welcome, " + data.name + ". Your token: " + data.token;
      });
    </script>
  </body>
</html>
`)
		return nil
	})
}
